package normalize

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/db"
	"github.com/sells-group/compintel/internal/lock"
	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/snapshot"
	"github.com/sells-group/compintel/internal/store"
)

// Locker serializes merge work per resource. Satisfied by *lock.Manager.
type Locker interface {
	WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error
}

// Orchestrator merges extracted entity sets into the canonical store under a
// per-competitor advisory lock, one transaction per entity, in dependency
// order so parents exist before their children.
type Orchestrator struct {
	pool          db.Pool
	entities      *store.EntityStore
	snapshots     *snapshot.Store
	ranker        *Ranker
	locks         Locker
	schemaVersion string
}

// NewOrchestrator wires the merge pipeline.
func NewOrchestrator(pool db.Pool, entities *store.EntityStore, snapshots *snapshot.Store, ranker *Ranker, locks Locker, schemaVersion string) *Orchestrator {
	return &Orchestrator{
		pool:          pool,
		entities:      entities,
		snapshots:     snapshots,
		ranker:        ranker,
		locks:         locks,
		schemaVersion: schemaVersion,
	}
}

// Result summarizes one merge run. Skipped counts entities that lost a
// concurrent-insert race; Errs carries per-entity failures that did not stop
// the run.
type Result struct {
	Processed int
	Created   int
	Updated   int
	Skipped   int
	Changes   []model.EntityChange
	Errs      []error
}

// NormalizeAndUpsert merges an extracted set for one competitor. Cancellation
// is cooperative between entities: committed work stands, remaining entities
// are left for the next run.
func (o *Orchestrator) NormalizeAndUpsert(ctx context.Context, competitor, sessionID string, set model.EntitySet, meta model.SourceMeta) (*Result, error) {
	res := &Result{}
	err := o.locks.WithLock(ctx, lock.CompetitorKey(competitor), func(ctx context.Context) error {
		for _, t := range model.TypeOrder {
			for _, payload := range set.PayloadsFor(t) {
				if err := ctx.Err(); err != nil {
					return eris.Wrap(err, "normalize: cancelled")
				}
				o.mergeOne(ctx, competitor, sessionID, t, payload, meta, res)
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) mergeOne(ctx context.Context, competitor, sessionID string, t model.EntityType, payload model.Payload, meta model.SourceMeta, res *Result) {
	key := Key(payload)
	if key == "" {
		return
	}
	res.Processed++

	rank := o.ranker.Rank(meta)
	err := db.InTx(ctx, o.pool, func(tx pgx.Tx) error {
		return o.mergeInTx(ctx, tx, competitor, sessionID, t, payload, key, rank, meta, res)
	})
	switch {
	case err == nil:
	case db.IsUniqueViolation(err):
		// Lost a concurrent-insert race on the natural key; the next run
		// merges into the winner's row.
		res.Skipped++
		zap.L().Info("entity skipped on unique violation",
			zap.String("competitor", competitor),
			zap.String("entity_type", t.String()),
			zap.String("natural_key", key))
	default:
		res.Errs = append(res.Errs, eris.Wrapf(err, "normalize: merge %s %s", t, key))
		zap.L().Error("entity merge failed",
			zap.String("competitor", competitor),
			zap.String("entity_type", t.String()),
			zap.String("natural_key", key),
			zap.Error(err))
	}
}

func (o *Orchestrator) mergeInTx(ctx context.Context, tx pgx.Tx, competitor, sessionID string, t model.EntityType, payload model.Payload, key string, rank float64, meta model.SourceMeta, res *Result) error {
	existing, err := o.entities.FindByNaturalKey(ctx, tx, competitor, t.String(), key)
	if err != nil {
		return err
	}

	incoming := payload.Fields()
	var rec *model.EntityRecord
	if existing == nil {
		rec = &model.EntityRecord{
			Competitor: competitor,
			EntityType: t.String(),
			NaturalKey: key,
			Name:       CanonicalName(payload.DisplayName()),
			Data:       incoming,
			Confidence: payload.SourceConfidence(),
			SourceRank: rank,
		}
		if err := o.entities.Create(ctx, tx, rec); err != nil {
			return err
		}
		res.Created++
	} else {
		rec = existing
		rec.Data, rec.Confidence = o.mergeFields(existing, incoming, rank, payload.SourceConfidence())
		if rank > rec.SourceRank {
			rec.SourceRank = rank
		}
		if err := o.entities.Update(ctx, tx, rec); err != nil {
			return err
		}
		res.Updated++
	}

	change, err := o.snapshots.Capture(ctx, tx, rec.Name, sessionID, model.EntitySnapshot{
		EntityType:    rec.EntityType,
		EntityID:      rec.ID,
		SchemaVersion: o.schemaVersion,
		Data:          rec.Data,
	})
	if err != nil {
		return err
	}
	if change != nil {
		res.Changes = append(res.Changes, *change)
	}

	return o.entities.InsertSource(ctx, tx, &model.ExtractionSource{
		EntityType:      rec.EntityType,
		EntityID:        rec.ID,
		SourceURL:       meta.URL,
		ContentHash:     meta.ContentHash,
		PageType:        meta.PageType,
		Method:          meta.Method,
		Confidence:      meta.Confidence,
		FieldsExtracted: sortedFieldNames(incoming),
		InputTokens:     meta.InputTokens,
		OutputTokens:    meta.OutputTokens,
		DurationMS:      meta.DurationMS,
	})
}

// mergeFields resolves each contested field through the ranker; one-sided
// fields pass through. The merged confidence is the mean of the winning
// per-field confidences.
func (o *Orchestrator) mergeFields(existing *model.EntityRecord, incoming map[string]any, rank, confidence float64) (map[string]any, float64) {
	merged := make(map[string]any, len(existing.Data)+len(incoming))
	var confSum float64
	var confN int

	for field, oldVal := range existing.Data {
		newVal, contested := incoming[field]
		if !contested {
			merged[field] = oldVal
			continue
		}
		val, conf := o.ranker.Resolve(field, []Candidate{
			{Value: oldVal, Rank: existing.SourceRank, Confidence: existing.Confidence},
			{Value: newVal, Rank: rank, Confidence: confidence},
		})
		merged[field] = val
		confSum += conf
		confN++
	}
	for field, newVal := range incoming {
		if _, seen := existing.Data[field]; !seen {
			merged[field] = newVal
		}
	}

	mergedConf := existing.Confidence
	if confN > 0 {
		mergedConf = confSum / float64(confN)
	}
	return merged, mergedConf
}

func sortedFieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}
