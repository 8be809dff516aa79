// Package resolution decides, for one detected face, whether it belongs to an
// identity already known in the event or starts a new one.
//
// Matching is first-match: exemplars are verified one at a time in identity
// creation order and the first positive verification wins, even if a later
// exemplar would have been a better fit.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/facelinker/internal/common"
	"github.com/your-org/facelinker/internal/models"
	"github.com/your-org/facelinker/internal/observability"
)

// Verifier answers whether two face crops show the same person.
type Verifier interface {
	Verify(ctx context.Context, a, b *models.Face) (bool, error)
}

// Embedder is implemented by verifiers that compare cached embeddings.
// A new exemplar is embedded before it is stored so later reads skip the crop.
type Embedder interface {
	Embed(ctx context.Context, face *models.Face) error
}

// Ledger is the subset of ledger.Ledger the engine needs.
type Ledger interface {
	GetExemplars(ctx context.Context, eventID uuid.UUID) ([]models.Exemplar, error)
	AppendOccurrence(ctx context.Context, identityID uuid.UUID, occ models.Occurrence) error
	CreateIdentity(ctx context.Context, ev *models.Event, exemplar models.Face, first models.Occurrence) (*models.Identity, error)
}

// DetectedFace is a cropped face awaiting resolution.
type DetectedFace struct {
	Face       models.Face
	Box        models.BoundingBox
	Confidence float64
}

type Resolution struct {
	IdentityID uuid.UUID          `json:"identity_id"`
	Created    bool               `json:"created"`
	Box        models.BoundingBox `json:"box"`
}

type Engine struct {
	verifier Verifier
	ledger   Ledger
	creating *keyedMutex
}

func NewEngine(verifier Verifier, ledger Ledger) *Engine {
	return &Engine{
		verifier: verifier,
		ledger:   ledger,
		creating: newKeyedMutex(),
	}
}

// Resolve assigns face to the first identity of the event whose exemplar the
// oracle verifies, appending an occurrence, or creates a new identity with the
// face as exemplar. Identity creation is serialized per event; under the lock
// only exemplars created since the first pass are checked again.
func (e *Engine) Resolve(ctx context.Context, ev *models.Event, imageID string, face DetectedFace) (Resolution, error) {
	occ := models.Occurrence{ImageID: imageID, Box: face.Box}
	if err := occ.Validate(); err != nil {
		return Resolution{}, err
	}

	exemplars, err := e.ledger.GetExemplars(ctx, ev.ID)
	if err != nil {
		return Resolution{}, ledgerError("get exemplars", err)
	}

	id, ok, err := e.firstMatch(ctx, &face.Face, exemplars)
	if err != nil {
		return Resolution{}, err
	}
	if ok {
		return e.appendTo(ctx, id, occ)
	}

	unlock := e.creating.Lock(ev.ID)
	defer unlock()

	latest, err := e.ledger.GetExemplars(ctx, ev.ID)
	if err != nil {
		return Resolution{}, ledgerError("refresh exemplars", err)
	}
	if fresh := unseen(exemplars, latest); len(fresh) > 0 {
		id, ok, err := e.firstMatch(ctx, &face.Face, fresh)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return e.appendTo(ctx, id, occ)
		}
	}

	if emb, ok := e.verifier.(Embedder); ok {
		if err := emb.Embed(ctx, &face.Face); err != nil {
			return Resolution{}, fmt.Errorf("embed exemplar: %w: %w", common.ErrOracleUnavailable, err)
		}
	}

	ident, err := e.ledger.CreateIdentity(ctx, ev, face.Face, occ)
	if err != nil {
		return Resolution{}, ledgerError("create identity", err)
	}
	observability.IdentitiesCreated.Inc()
	slog.Debug("identity created", "event_id", ev.ID, "identity_id", ident.ID, "image_id", imageID)

	return Resolution{IdentityID: ident.ID, Created: true, Box: face.Box}, nil
}

// firstMatch verifies face against exemplars in order and stops at the first match.
func (e *Engine) firstMatch(ctx context.Context, face *models.Face, exemplars []models.Exemplar) (uuid.UUID, bool, error) {
	for i := range exemplars {
		if err := ctx.Err(); err != nil {
			return uuid.Nil, false, err
		}
		same, err := e.verifier.Verify(ctx, face, &exemplars[i].Face)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("verify against %s: %w: %w",
				exemplars[i].IdentityID, common.ErrOracleUnavailable, err)
		}
		if same {
			return exemplars[i].IdentityID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (e *Engine) appendTo(ctx context.Context, identityID uuid.UUID, occ models.Occurrence) (Resolution, error) {
	if err := e.ledger.AppendOccurrence(ctx, identityID, occ); err != nil {
		return Resolution{}, ledgerError("append occurrence", err)
	}
	observability.OccurrencesAppended.Inc()
	return Resolution{IdentityID: identityID, Created: false, Box: occ.Box}, nil
}

// unseen returns the exemplars of latest that were not in before, keeping order.
func unseen(before, latest []models.Exemplar) []models.Exemplar {
	known := make(map[uuid.UUID]struct{}, len(before))
	for _, ex := range before {
		known[ex.IdentityID] = struct{}{}
	}
	var fresh []models.Exemplar
	for _, ex := range latest {
		if _, ok := known[ex.IdentityID]; !ok {
			fresh = append(fresh, ex)
		}
	}
	return fresh
}

// ledgerError keeps NotFound and InvalidInput and files everything else under StorageFailure.
func ledgerError(op string, err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrInvalidInput),
		errors.Is(err, common.ErrStorageFailure),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, common.ErrStorageFailure, err)
	}
}
