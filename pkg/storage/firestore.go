package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	docSettings    = "settings"
	docPVHistory   = "pv_history"
	docLoadHistory = "load_history"
	docESSMock     = "ess_mock"

	collState   = "state"
	collResults = "boost_results"
)

// FirestoreProvider implements Database using Google Cloud Firestore.
// Every document stores its value as a JSON string in the "json" field next
// to an optional "version".
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	root      string // document under "sites" all collections live in
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	root := lflag.String("firestore-root", "default", "document under the sites collection that holds this installation's data")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.root = *root

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.root == "" {
		return fmt.Errorf("firestore-root cannot be empty")
	}
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

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection("sites").Doc(f.root).Collection(name)
}

func docVersion(doc *firestore.DocumentSnapshot) int {
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			return int(vInt)
		}
	}
	return 0
}

// decodeDoc unmarshals the "json" field of doc into dest.
func decodeDoc(ctx context.Context, doc *firestore.DocumentSnapshot, dest any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("%w: %s missing 'json' field: %v", ErrCorrupt, doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("%w: %s 'json' field is not a string", ErrCorrupt, doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("%w: failed to unmarshal %s: %v", ErrCorrupt, doc.Ref.ID, err)
	}
	return nil
}

// getState reads a document of the state collection. A missing document
// leaves dest untouched and returns version 0.
func (f *FirestoreProvider) getState(ctx context.Context, name string, dest any) (int, error) {
	doc, err := f.collection(collState).Doc(name).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to fetch %s doc: %w", name, err)
	}
	if err := decodeDoc(ctx, doc, dest); err != nil {
		return 0, err
	}
	return docVersion(doc), nil
}

func (f *FirestoreProvider) setState(ctx context.Context, name string, value any, version int) error {
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	_, err = f.collection(collState).Doc(name).Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

// GetSettings retrieves the settings document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	var s types.Settings
	version, err := f.getState(ctx, docSettings, &s)
	if err != nil {
		return types.Settings{}, 0, err
	}
	return s, version, nil
}

// SetSettings saves the settings document.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	return f.setState(ctx, docSettings, settings, version)
}

func (f *FirestoreProvider) GetPVHistory(ctx context.Context) (types.PVHistory, int, error) {
	var h types.PVHistory
	version, err := f.getState(ctx, docPVHistory, &h)
	if err != nil {
		return types.PVHistory{}, 0, err
	}
	return h, version, nil
}

func (f *FirestoreProvider) SetPVHistory(ctx context.Context, history types.PVHistory, version int) error {
	return f.setState(ctx, docPVHistory, history, version)
}

func (f *FirestoreProvider) GetLoadHistory(ctx context.Context) (types.LoadHistory, int, error) {
	var h types.LoadHistory
	version, err := f.getState(ctx, docLoadHistory, &h)
	if err != nil {
		return types.LoadHistory{}, 0, err
	}
	return h, version, nil
}

func (f *FirestoreProvider) SetLoadHistory(ctx context.Context, history types.LoadHistory, version int) error {
	return f.setState(ctx, docLoadHistory, history, version)
}

// GetESSMockState returns the simulated ESS state or a zero state.
func (f *FirestoreProvider) GetESSMockState(ctx context.Context) (types.ESSMockState, error) {
	var s types.ESSMockState
	if _, err := f.getState(ctx, docESSMock, &s); err != nil {
		return types.ESSMockState{}, err
	}
	return s, nil
}

func (f *FirestoreProvider) UpdateESSMockState(ctx context.Context, state types.ESSMockState) error {
	return f.setState(ctx, docESSMock, state, 0)
}

// InsertResult adds a result to the "boost_results" collection.
// The document ID is the RFC3339 timestamp for efficient range queries.
func (f *FirestoreProvider) InsertResult(ctx context.Context, result types.BoostResult) error {
	if result.Timestamp.IsZero() {
		return fmt.Errorf("result missing timestamp")
	}
	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	docID := result.Timestamp.UTC().Format(time.RFC3339)
	_, err = f.collection(collResults).Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": result.Timestamp,
		"day":       result.Day.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// GetLatestResult returns the most recent result or nil when there is none.
func (f *FirestoreProvider) GetLatestResult(ctx context.Context) (*types.BoostResult, error) {
	iter := f.collection(collResults).
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest result doc: %w", err)
	}
	var r types.BoostResult
	if err := decodeDoc(ctx, doc, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetResultHistory retrieves results within [start, end).
// Uses document ID range queries for efficient filtering without reading all documents.
func (f *FirestoreProvider) GetResultHistory(ctx context.Context, start, end time.Time) ([]types.BoostResult, error) {
	coll := f.collection(collResults)
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var results []types.BoostResult
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating results: %w", err)
		}
		var r types.BoostResult
		if err := decodeDoc(ctx, doc, &r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
