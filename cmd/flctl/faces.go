package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/your-org/facelinker/internal/app"
	"github.com/your-org/facelinker/internal/ledger"
)

var facesCmd = &cobra.Command{
	Use:   "faces <event-id>",
	Short: "List an event's identities in creation order",
	Args:  cobra.ExactArgs(1),
	RunE:  runFaces,
}

var renameCmd = &cobra.Command{
	Use:   "rename <face-id> <name>",
	Short: "Set an identity's display name",
	Args:  cobra.ExactArgs(2),
	RunE:  runRename,
}

var deleteEventYes bool

var deleteEventCmd = &cobra.Command{
	Use:   "delete-event <event-id>",
	Short: "Delete an event with all its images, identities and crops",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteEvent,
}

func init() {
	deleteEventCmd.Flags().BoolVar(&deleteEventYes, "yes", false, "confirm deletion")
	rootCmd.AddCommand(facesCmd, renameCmd, deleteEventCmd)
}

// openLedger opens the stores without loading the vision models.
func openLedger(cmd *cobra.Command) (*ledger.Ledger, *app.Stores, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	stores, err := app.OpenStores(cmd.Context(), cfg, false)
	if err != nil {
		return nil, nil, err
	}
	return ledger.New(stores.Meta, stores.Blobs), stores, nil
}

func runFaces(cmd *cobra.Command, args []string) error {
	eventID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}
	l, stores, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer stores.Close()

	idents, err := l.ListIdentities(cmd.Context(), eventID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tOCCURRENCES\tCREATED")
	for _, ident := range idents {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", ident.ID, ident.DisplayName, len(ident.Occurrences), ident.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runRename(cmd *cobra.Command, args []string) error {
	faceID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid face id: %w", err)
	}
	l, stores, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := l.RenameIdentity(cmd.Context(), faceID, args[1]); err != nil {
		return err
	}
	fmt.Printf("Renamed %s to %q\n", faceID, args[1])
	return nil
}

func runDeleteEvent(cmd *cobra.Command, args []string) error {
	eventID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}
	if !deleteEventYes {
		return fmt.Errorf("refusing to delete event %s without --yes", eventID)
	}
	l, stores, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := l.DeleteEvent(cmd.Context(), eventID); err != nil {
		return err
	}
	fmt.Printf("Deleted event %s\n", eventID)
	return nil
}
