package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Every entity is stored as a JSON blob in the "json" field of its
// document, next to the few fields that are queried on.
//
// Layout:
//
//	hubs/{hubID}
//	hubs/{hubID}/allocation_history/{RFC3339 timestamp}
//	batteries/{batteryID}
//	batteries/{batteryID}/forecasts/{YYYY-MM-DD}
//	suggestions/{suggestionID}
//	suggestion_keys/{batteryID_type_day}
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func allocationDocID(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}

func forecastDocID(date time.Time) string {
	return date.Format(time.DateOnly)
}

func (f *FirestoreProvider) allocations(hubID string) *firestore.CollectionRef {
	return f.client.Collection("hubs").Doc(hubID).Collection("allocation_history")
}

func (f *FirestoreProvider) forecasts(batteryID string) *firestore.CollectionRef {
	return f.client.Collection("batteries").Doc(batteryID).Collection("forecasts")
}

// decodeDoc unmarshals the "json" field of doc into v.
func decodeDoc(ctx context.Context, doc *firestore.DocumentSnapshot, kind string, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("kind", kind), slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("%s document %s missing 'json' field: %w", kind, doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("kind", kind), slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("%s document %s 'json' field is not a string", kind, doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("kind", kind), slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal %s (id=%s): %w", kind, doc.Ref.ID, err)
	}
	return nil
}

func encodeDoc(kind string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return string(b), nil
}

func suggestionFields(s types.Suggestion, jsonStr string) map[string]interface{} {
	return map[string]interface{}{
		"json":      jsonStr,
		"batteryID": s.BatteryID,
		"timeSent":  s.TimeSent,
		"dedupKey":  s.DedupKey(),
	}
}

// GetHub retrieves a hub from the "hubs" collection.
func (f *FirestoreProvider) GetHub(ctx context.Context, hubID string) (types.Hub, error) {
	doc, err := f.client.Collection("hubs").Doc(hubID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Hub{}, fmt.Errorf("%w: %s", types.ErrHubNotFound, hubID)
		}
		return types.Hub{}, fmt.Errorf("%w: failed to get hub %s: %w", types.ErrStorage, hubID, err)
	}
	var hub types.Hub
	if err := decodeDoc(ctx, doc, "hub", &hub); err != nil {
		return types.Hub{}, err
	}
	return hub, nil
}

// ListHubs retrieves all hubs from the "hubs" collection. Malformed
// documents are skipped.
func (f *FirestoreProvider) ListHubs(ctx context.Context) ([]types.Hub, error) {
	iter := f.client.Collection("hubs").Documents(ctx)
	defer iter.Stop()

	var hubs []types.Hub
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: error iterating hubs: %w", types.ErrStorage, err)
		}
		var hub types.Hub
		if err := decodeDoc(ctx, doc, "hub", &hub); err != nil {
			continue
		}
		hubs = append(hubs, hub)
	}
	return hubs, nil
}

// UpsertHub stores a hub in the "hubs" collection.
func (f *FirestoreProvider) UpsertHub(ctx context.Context, hub types.Hub) error {
	if hub.ID == "" {
		return fmt.Errorf("%w: hub id cannot be empty", types.ErrValidation)
	}
	jsonStr, err := encodeDoc("hub", hub)
	if err != nil {
		return err
	}
	_, err = f.client.Collection("hubs").Doc(hub.ID).Set(ctx, map[string]interface{}{
		"json": jsonStr,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert hub %s: %w", types.ErrStorage, hub.ID, err)
	}
	return nil
}

// GetBattery retrieves a battery from the "batteries" collection.
func (f *FirestoreProvider) GetBattery(ctx context.Context, batteryID string) (types.BatteryState, error) {
	doc, err := f.client.Collection("batteries").Doc(batteryID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.BatteryState{}, fmt.Errorf("%w: %s", types.ErrBatteryNotFound, batteryID)
		}
		return types.BatteryState{}, fmt.Errorf("%w: failed to get battery %s: %w", types.ErrStorage, batteryID, err)
	}
	var b types.BatteryState
	if err := decodeDoc(ctx, doc, "battery", &b); err != nil {
		return types.BatteryState{}, err
	}
	return b, nil
}

// UpsertBattery stores a battery in the "batteries" collection.
func (f *FirestoreProvider) UpsertBattery(ctx context.Context, battery types.BatteryState) error {
	if battery.ID == "" {
		return fmt.Errorf("%w: battery id cannot be empty", types.ErrValidation)
	}
	jsonStr, err := encodeDoc("battery", battery)
	if err != nil {
		return err
	}
	_, err = f.client.Collection("batteries").Doc(battery.ID).Set(ctx, map[string]interface{}{
		"json": jsonStr,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert battery %s: %w", types.ErrStorage, battery.ID, err)
	}
	return nil
}

// GetAllocation retrieves the allocation recorded for a hub at ts.
func (f *FirestoreProvider) GetAllocation(ctx context.Context, hubID string, ts time.Time) (*types.AllocationRecord, error) {
	doc, err := f.allocations(hubID).Doc(allocationDocID(ts)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to get allocation: %w", types.ErrStorage, err)
	}
	var rec types.AllocationRecord
	if err := decodeDoc(ctx, doc, "allocation", &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CommitTick stores the battery and the allocation record in one transaction.
// The allocation document ID is the RFC3339 timestamp so a second commit for
// the same tick finds the first one.
func (f *FirestoreProvider) CommitTick(ctx context.Context, battery types.BatteryState, record types.AllocationRecord) error {
	batteryJSON, err := encodeDoc("battery", battery)
	if err != nil {
		return err
	}
	recordJSON, err := encodeDoc("allocation", record)
	if err != nil {
		return err
	}

	recRef := f.allocations(record.HubID).Doc(allocationDocID(record.Timestamp))
	batRef := f.client.Collection("batteries").Doc(battery.ID)

	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(recRef)
		if err == nil {
			return types.ErrTickAlreadyRecorded
		}
		if status.Code(err) != codes.NotFound {
			return err
		}
		if err := tx.Set(batRef, map[string]interface{}{"json": batteryJSON}, firestore.MergeAll); err != nil {
			return err
		}
		return tx.Create(recRef, map[string]interface{}{
			"json":      recordJSON,
			"timestamp": record.Timestamp,
		})
	})
	if err != nil {
		if errors.Is(err, types.ErrTickAlreadyRecorded) {
			return err
		}
		if status.Code(err) == codes.AlreadyExists {
			return types.ErrTickAlreadyRecorded
		}
		return fmt.Errorf("%w: failed to commit tick for hub %s: %w", types.ErrStorage, record.HubID, err)
	}
	return nil
}

// GetAllocationHistory retrieves allocation records within [start, end).
// Uses document ID range queries for efficient filtering.
func (f *FirestoreProvider) GetAllocationHistory(ctx context.Context, hubID string, start, end time.Time) ([]types.AllocationRecord, error) {
	coll := f.allocations(hubID)
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(allocationDocID(start))).
		Where(firestore.DocumentID, "<", coll.Doc(allocationDocID(end))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var records []types.AllocationRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: error iterating allocations: %w", types.ErrStorage, err)
		}
		var rec types.AllocationRecord
		if err := decodeDoc(ctx, doc, "allocation", &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetLatestForecast returns the forecast with the latest date for a battery.
func (f *FirestoreProvider) GetLatestForecast(ctx context.Context, batteryID string) (*types.Forecast, error) {
	iter := f.forecasts(batteryID).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get latest forecast: %w", types.ErrStorage, err)
	}
	var fc types.Forecast
	if err := decodeDoc(ctx, doc, "forecast", &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// UpsertForecast stores a forecast keyed by its date.
func (f *FirestoreProvider) UpsertForecast(ctx context.Context, forecast types.Forecast) error {
	if forecast.BatteryID == "" {
		return fmt.Errorf("%w: forecast battery id cannot be empty", types.ErrValidation)
	}
	jsonStr, err := encodeDoc("forecast", forecast)
	if err != nil {
		return err
	}
	_, err = f.forecasts(forecast.BatteryID).Doc(forecastDocID(forecast.ForecastDate)).Set(ctx, map[string]interface{}{
		"json": jsonStr,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upsert forecast: %w", types.ErrStorage, err)
	}
	return nil
}

// SuggestionExists checks the "suggestion_keys" collection for the dedup key.
func (f *FirestoreProvider) SuggestionExists(ctx context.Context, batteryID string, typ types.SuggestionType, day string) (bool, error) {
	_, err := f.client.Collection("suggestion_keys").Doc(types.SuggestionDedupKey(batteryID, typ, day)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to check suggestion: %w", types.ErrStorage, err)
	}
	return true, nil
}

// InsertSuggestion creates the suggestion and its dedup key document in one
// transaction.
func (f *FirestoreProvider) InsertSuggestion(ctx context.Context, s types.Suggestion) error {
	if s.ID == "" {
		return fmt.Errorf("%w: suggestion id cannot be empty", types.ErrValidation)
	}
	jsonStr, err := encodeDoc("suggestion", s)
	if err != nil {
		return err
	}

	keyRef := f.client.Collection("suggestion_keys").Doc(s.DedupKey())
	ref := f.client.Collection("suggestions").Doc(s.ID)

	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(keyRef)
		if err == nil {
			return types.ErrDuplicateSuggestion
		}
		if status.Code(err) != codes.NotFound {
			return err
		}
		if err := tx.Create(keyRef, map[string]interface{}{"suggestionID": s.ID}); err != nil {
			return err
		}
		return tx.Create(ref, suggestionFields(s, jsonStr))
	})
	if err != nil {
		if errors.Is(err, types.ErrDuplicateSuggestion) {
			return err
		}
		if status.Code(err) == codes.AlreadyExists {
			return types.ErrDuplicateSuggestion
		}
		return fmt.Errorf("%w: failed to insert suggestion %s: %w", types.ErrStorage, s.ID, err)
	}
	return nil
}

// GetSuggestion retrieves a suggestion by ID.
func (f *FirestoreProvider) GetSuggestion(ctx context.Context, id string) (types.Suggestion, error) {
	doc, err := f.client.Collection("suggestions").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Suggestion{}, fmt.Errorf("%w: %s", types.ErrSuggestionNotFound, id)
		}
		return types.Suggestion{}, fmt.Errorf("%w: failed to get suggestion %s: %w", types.ErrStorage, id, err)
	}
	var s types.Suggestion
	if err := decodeDoc(ctx, doc, "suggestion", &s); err != nil {
		return types.Suggestion{}, err
	}
	return s, nil
}

// UpdateSuggestion stores the suggestion and, optionally, the battery in one
// transaction. The suggestion must exist.
func (f *FirestoreProvider) UpdateSuggestion(ctx context.Context, s types.Suggestion, battery *types.BatteryState) error {
	jsonStr, err := encodeDoc("suggestion", s)
	if err != nil {
		return err
	}
	var batteryJSON string
	if battery != nil {
		if batteryJSON, err = encodeDoc("battery", *battery); err != nil {
			return err
		}
	}

	ref := f.client.Collection("suggestions").Doc(s.ID)
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", types.ErrSuggestionNotFound, s.ID)
			}
			return err
		}
		if err := tx.Set(ref, suggestionFields(s, jsonStr)); err != nil {
			return err
		}
		if battery != nil {
			batRef := f.client.Collection("batteries").Doc(battery.ID)
			return tx.Set(batRef, map[string]interface{}{"json": batteryJSON}, firestore.MergeAll)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: failed to update suggestion %s: %w", types.ErrStorage, s.ID, err)
	}
	return nil
}

// ListSuggestions returns a battery's suggestions ordered by time sent.
func (f *FirestoreProvider) ListSuggestions(ctx context.Context, batteryID string) ([]types.Suggestion, error) {
	iter := f.client.Collection("suggestions").
		Where("batteryID", "==", batteryID).
		Documents(ctx)
	defer iter.Stop()

	var out []types.Suggestion
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: error iterating suggestions: %w", types.ErrStorage, err)
		}
		var s types.Suggestion
		if err := decodeDoc(ctx, doc, "suggestion", &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	// sorted here to avoid a composite index on (batteryID, timeSent)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimeSent.Before(out[j].TimeSent)
	})
	return out, nil
}

// DeleteSuggestionsBefore deletes every suggestion sent before t along with
// its dedup key.
func (f *FirestoreProvider) DeleteSuggestionsBefore(ctx context.Context, t time.Time) (int, error) {
	iter := f.client.Collection("suggestions").
		Where("timeSent", "<", t).
		Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: error iterating old suggestions: %w", types.ErrStorage, err)
		}
		refs = append(refs, doc.Ref)
		if key, err := doc.DataAt("dedupKey"); err == nil {
			if keyStr, ok := key.(string); ok && keyStr != "" {
				refs = append(refs, f.client.Collection("suggestion_keys").Doc(keyStr))
			}
		}
	}
	if len(refs) == 0 {
		return 0, nil
	}

	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("%w: failed to queue suggestion delete: %w", types.ErrStorage, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var deleted int
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return deleted, fmt.Errorf("%w: failed to delete %s: %w", types.ErrStorage, refs[i].Path, err)
		}
		if refs[i].Parent.ID == "suggestions" {
			deleted++
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "deleted old suggestions", slog.Int("count", deleted), slog.Time("before", t))
	return deleted, nil
}
