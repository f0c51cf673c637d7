package keepalive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/angeloszaimis/appwrite-keepalive/internal/appwrite"
)

// SetupStep records whether a resource was created or already existed.
type SetupStep struct {
	Resource string
	Created  bool
}

// Setup provisions the keepalive database, collection and attributes ahead of
// the first keepalive run. Resources that already exist are left untouched.
func Setup(ctx context.Context, db Databases, logger *slog.Logger) ([]SetupStep, error) {
	steps := []struct {
		resource string
		create   func() error
	}{
		{
			resource: fmt.Sprintf("database %s (%s)", DatabaseName, DatabaseID),
			create: func() error {
				_, err := db.CreateDatabase(ctx, DatabaseID, DatabaseName)
				return err
			},
		},
		{
			resource: fmt.Sprintf("collection %s (%s)", CollectionName, CollectionID),
			create: func() error {
				_, err := db.CreateCollection(ctx, collectionRequest())
				return err
			},
		},
		{
			resource: fmt.Sprintf("attribute %s (datetime)", TimestampAttribute),
			create: func() error {
				return db.CreateDatetimeAttribute(ctx, DatabaseID, CollectionID, TimestampAttribute, true)
			},
		},
		{
			resource: fmt.Sprintf("attribute %s (string)", SourceAttribute),
			create: func() error {
				return db.CreateStringAttribute(ctx, DatabaseID, CollectionID, SourceAttribute, SourceSize, true)
			},
		},
	}

	done := make([]SetupStep, 0, len(steps))

	for _, step := range steps {
		err := step.create()
		switch {
		case err == nil:
			logger.Info("Created", slog.String("resource", step.resource))
			done = append(done, SetupStep{Resource: step.resource, Created: true})
		case appwrite.IsAlreadyExists(err):
			logger.Info("Exists", slog.String("resource", step.resource))
			done = append(done, SetupStep{Resource: step.resource})
		default:
			return done, fmt.Errorf("setup %s: %w", step.resource, err)
		}
	}

	return done, nil
}
