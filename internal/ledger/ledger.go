// Package ledger is the data-access facade over the metadata and blob stores:
// users, events, identities, their occurrences and exemplar crops.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/facelinker/internal/common"
	"github.com/your-org/facelinker/internal/models"
)

// MetadataStore persists records. Implemented by storage.PostgresStore and storage.MemoryStore.
type MetadataStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	CreateEvent(ctx context.Context, ev *models.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListEvents(ctx context.Context, ownerID uuid.UUID) ([]models.Event, error)
	DeleteEvent(ctx context.Context, id uuid.UUID) error

	InsertIdentity(ctx context.Context, ident *models.Identity, embedding []float32) error
	AppendOccurrence(ctx context.Context, identityID uuid.UUID, occ models.Occurrence) error
	RenameIdentity(ctx context.Context, id uuid.UUID, name string) error
	DeleteIdentity(ctx context.Context, id uuid.UUID) error
	GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error)
	ListIdentities(ctx context.Context, eventID uuid.UUID) ([]models.Identity, error)
	ListExemplars(ctx context.Context, eventID uuid.UUID) ([]models.Exemplar, error)
	ListImageOccurrences(ctx context.Context, eventID uuid.UUID, imageID string) ([]models.ImageOccurrence, error)
}

// BlobStore holds source images and exemplar crops.
// Implemented by storage.MinIOStore and storage.MemoryBlobStore.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	URL(ctx context.Context, key string) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type Ledger struct {
	meta  MetadataStore
	blobs BlobStore
}

func New(meta MetadataStore, blobs BlobStore) *Ledger {
	return &Ledger{meta: meta, blobs: blobs}
}

// PutImage stores a source image under {owner}/{event}/{image}.
func (l *Ledger) PutImage(ctx context.Context, ev *models.Event, imageID string, data []byte, contentType string) error {
	return l.blobs.Put(ctx, ev.ImageKey(imageID), data, contentType)
}

func (l *Ledger) GetImage(ctx context.Context, ev *models.Event, imageID string) ([]byte, error) {
	return l.blobs.Get(ctx, ev.ImageKey(imageID))
}

// --- Users and events ---

func (l *Ledger) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return l.meta.CreateUser(ctx, u)
}

func (l *Ledger) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return l.meta.GetUser(ctx, id)
}

func (l *Ledger) CreateEvent(ctx context.Context, ev *models.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return l.meta.CreateEvent(ctx, ev)
}

func (l *Ledger) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return l.meta.GetEvent(ctx, id)
}

func (l *Ledger) ListEvents(ctx context.Context, ownerID uuid.UUID) ([]models.Event, error) {
	return l.meta.ListEvents(ctx, ownerID)
}

// DeleteEvent removes the event's records (cascading to identities and
// occurrences) and then every blob under the event prefix.
func (l *Ledger) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	ev, err := l.meta.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if err := l.meta.DeleteEvent(ctx, id); err != nil {
		return err
	}
	if err := l.blobs.DeletePrefix(ctx, ev.Prefix()); err != nil {
		return fmt.Errorf("delete event blobs: %w", err)
	}
	return nil
}

// ListEventImages returns the ids of the event's source images.
func (l *Ledger) ListEventImages(ctx context.Context, ev *models.Event) ([]string, error) {
	prefix := ev.Prefix()
	keys, err := l.blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	images := make([]string, 0, len(keys))
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix)
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		images = append(images, rel)
	}
	return images, nil
}

func (l *Ledger) ImageURL(ctx context.Context, ev *models.Event, imageID string) (string, error) {
	return l.blobs.URL(ctx, ev.ImageKey(imageID))
}

func (l *Ledger) ExemplarURL(ctx context.Context, ident *models.Identity) (string, error) {
	return l.blobs.URL(ctx, ident.ExemplarKey)
}

// --- Identities ---

// GetExemplars returns the event's exemplars in identity creation order.
// Crops are loaded from the blob store only for exemplars without a stored embedding.
func (l *Ledger) GetExemplars(ctx context.Context, eventID uuid.UUID) ([]models.Exemplar, error) {
	exemplars, err := l.meta.ListExemplars(ctx, eventID)
	if err != nil {
		return nil, err
	}
	for i := range exemplars {
		if len(exemplars[i].Face.Embedding) > 0 {
			continue
		}
		data, err := l.blobs.Get(ctx, exemplars[i].Key)
		if err != nil {
			return nil, fmt.Errorf("load exemplar %s: %w", exemplars[i].IdentityID, err)
		}
		exemplars[i].Face.PNG = data
	}
	return exemplars, nil
}

// CreateIdentity stores the exemplar crop and then the identity record holding
// first as its only occurrence. The crop is removed again if the record cannot be stored.
func (l *Ledger) CreateIdentity(ctx context.Context, ev *models.Event, exemplar models.Face, first models.Occurrence) (*models.Identity, error) {
	if len(exemplar.PNG) == 0 {
		return nil, fmt.Errorf("create identity: empty exemplar: %w", common.ErrInvalidInput)
	}

	ident := models.NewIdentity(ev.ID, first)
	ident.ExemplarKey = ev.ExemplarKey(ident.ID)
	if err := ident.Validate(); err != nil {
		return nil, err
	}

	if err := l.blobs.Put(ctx, ident.ExemplarKey, exemplar.PNG, "image/png"); err != nil {
		return nil, fmt.Errorf("store exemplar: %w", err)
	}
	if err := l.meta.InsertIdentity(ctx, ident, exemplar.Embedding); err != nil {
		if delErr := l.blobs.Delete(context.WithoutCancel(ctx), ident.ExemplarKey); delErr != nil {
			slog.Warn("failed to remove orphaned exemplar", "key", ident.ExemplarKey, "error", delErr)
		}
		return nil, err
	}
	return ident, nil
}

func (l *Ledger) AppendOccurrence(ctx context.Context, identityID uuid.UUID, occ models.Occurrence) error {
	return l.meta.AppendOccurrence(ctx, identityID, occ)
}

// RenameIdentity changes only the display name; repeating it is a no-op.
func (l *Ledger) RenameIdentity(ctx context.Context, id uuid.UUID, name string) error {
	return l.meta.RenameIdentity(ctx, id, strings.TrimSpace(name))
}

// DeleteIdentity removes the identity, its occurrences and its exemplar crop.
func (l *Ledger) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	ident, err := l.meta.GetIdentity(ctx, id)
	if err != nil {
		return err
	}
	if err := l.meta.DeleteIdentity(ctx, id); err != nil {
		return err
	}
	if err := l.blobs.Delete(ctx, ident.ExemplarKey); err != nil {
		slog.Warn("failed to delete exemplar", "identity_id", id, "error", err)
	}
	return nil
}

func (l *Ledger) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	return l.meta.GetIdentity(ctx, id)
}

// ListIdentities returns the event's identities in creation order.
func (l *Ledger) ListIdentities(ctx context.Context, eventID uuid.UUID) ([]models.Identity, error) {
	if _, err := l.meta.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return l.meta.ListIdentities(ctx, eventID)
}

// ListOccurrencesForImage returns every identity located in the image.
// An image with no faces yields an empty list; an image that was never stored is ErrNotFound.
func (l *Ledger) ListOccurrencesForImage(ctx context.Context, eventID uuid.UUID, imageID string) ([]models.ImageOccurrence, error) {
	ev, err := l.meta.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	occs, err := l.meta.ListImageOccurrences(ctx, eventID, imageID)
	if err != nil {
		return nil, err
	}
	if len(occs) > 0 {
		return occs, nil
	}

	key := ev.ImageKey(imageID)
	keys, err := l.blobs.List(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k == key {
			return occs, nil
		}
	}
	return nil, fmt.Errorf("image %s: %w", imageID, common.ErrNotFound)
}

// OccurrenceView is one occurrence of an identity with the other identities in the same image.
type OccurrenceView struct {
	Occurrence models.Occurrence
	ImageURL   string
	Others     []models.ImageOccurrence
}

// FaceView is everything the face page shows for one identity.
type FaceView struct {
	Identity    *models.Identity
	Event       *models.Event
	ExemplarURL string
	Occurrences []OccurrenceView
}

// CoOccurrences builds the face view: every occurrence of the identity plus,
// per image, the other identities found there. The identity itself is excluded
// from Others even when it occurs twice in one image.
func (l *Ledger) CoOccurrences(ctx context.Context, identityID uuid.UUID) (*FaceView, error) {
	ident, err := l.meta.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	ev, err := l.meta.GetEvent(ctx, ident.EventID)
	if err != nil {
		return nil, err
	}

	view := &FaceView{Identity: ident, Event: ev}
	if view.ExemplarURL, err = l.ExemplarURL(ctx, ident); err != nil {
		return nil, err
	}

	byImage := make(map[string][]models.ImageOccurrence)
	for _, occ := range ident.Occurrences {
		others, ok := byImage[occ.ImageID]
		if !ok {
			all, err := l.meta.ListImageOccurrences(ctx, ev.ID, occ.ImageID)
			if err != nil {
				return nil, err
			}
			others = make([]models.ImageOccurrence, 0, len(all))
			for _, o := range all {
				if o.IdentityID != identityID {
					others = append(others, o)
				}
			}
			byImage[occ.ImageID] = others
		}

		imageURL, err := l.ImageURL(ctx, ev, occ.ImageID)
		if err != nil {
			return nil, err
		}
		view.Occurrences = append(view.Occurrences, OccurrenceView{
			Occurrence: occ,
			ImageURL:   imageURL,
			Others:     others,
		})
	}
	return view, nil
}

