package keepalive

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/angeloszaimis/appwrite-keepalive/config"
	"github.com/angeloszaimis/appwrite-keepalive/internal/appwrite"
	"github.com/angeloszaimis/appwrite-keepalive/internal/metrics"
)

// Resources created in every project.
const (
	DatabaseID     = "_keepalive"
	DatabaseName   = "Keepalive"
	CollectionID   = "heartbeats"
	CollectionName = "Heartbeats"
	DocumentID     = "status"

	TimestampAttribute = "timestamp"
	SourceAttribute    = "source"
	SourceSize         = 64
)

const (
	MessageSent    = "Heartbeat sent successfully"
	MessageCreated = "Initial heartbeat created"
)

const tracerName = "github.com/angeloszaimis/appwrite-keepalive/internal/keepalive"

// Databases is the subset of the Appwrite Databases API used here.
// *appwrite.Client implements it.
type Databases interface {
	GetDatabase(ctx context.Context, databaseID string) (appwrite.Database, error)
	CreateDatabase(ctx context.Context, databaseID, name string) (appwrite.Database, error)
	GetCollection(ctx context.Context, databaseID, collectionID string) (appwrite.Collection, error)
	CreateCollection(ctx context.Context, req appwrite.CreateCollectionRequest) (appwrite.Collection, error)
	CreateDatetimeAttribute(ctx context.Context, databaseID, collectionID, key string, required bool) error
	CreateStringAttribute(ctx context.Context, databaseID, collectionID, key string, size int, required bool) error
	UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data any) (appwrite.Document, error)
	CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data any, permissions []string) (appwrite.Document, error)
}

// ClientFactory builds the API client for one project.
type ClientFactory func(project config.ProjectConfig) Databases

// NewAppwriteClientFactory returns a factory for real Appwrite clients.
func NewAppwriteClientFactory(timeout time.Duration) ClientFactory {
	return func(project config.ProjectConfig) Databases {
		return appwrite.NewClient(project.Endpoint, project.ProjectID, project.APIKey,
			appwrite.WithTimeout(timeout))
	}
}

// Heartbeat is the data stored in the status document.
type Heartbeat struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// Result is the outcome of one project's keepalive.
type Result struct {
	ProjectID string
	Name      string
	Success   bool
	// Created is set when the status document did not exist yet.
	Created   bool
	Message   string
	Timestamp time.Time
	Duration  time.Duration
	Err       error
}

// Label names the project the same way config.ProjectConfig.Label does.
func (r Result) Label() string {
	return config.ProjectConfig{ProjectID: r.ProjectID, Name: r.Name}.Label()
}

// FailedResult builds a failure for a project that was not contacted.
func FailedResult(project config.ProjectConfig, err error, at time.Time) Result {
	return Result{
		ProjectID: project.ProjectID,
		Name:      project.Name,
		Message:   err.Error(),
		Timestamp: at,
		Err:       err,
	}
}

// FormatTimestamp renders t as UTC ISO-8601 with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

type Runner struct {
	logger        *slog.Logger
	newClient     ClientFactory
	source        string
	attributeWait time.Duration
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
	collector     *metrics.Collector
	tracer        trace.Tracer
}

type Option func(*Runner)

// WithSource sets the source recorded in the heartbeat document.
func WithSource(source string) Option {
	return func(r *Runner) {
		if source != "" {
			r.source = source
		}
	}
}

// WithAttributeWait sets how long to wait after creating the collection
// attributes. Appwrite processes attributes asynchronously.
func WithAttributeWait(d time.Duration) Option {
	return func(r *Runner) {
		r.attributeWait = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		r.sleep = sleep
	}
}

func WithCollector(collector *metrics.Collector) Option {
	return func(r *Runner) {
		r.collector = collector
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

func NewRunner(logger *slog.Logger, newClient ClientFactory, opts ...Option) *Runner {
	r := &Runner{
		logger:        logger,
		newClient:     newClient,
		source:        "github-actions",
		attributeWait: 2 * time.Second,
		now:           time.Now,
		sleep:         sleepContext,
		tracer:        otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run keeps every project alive in order, one at a time, and returns one
// result per project. Projects left when ctx is done fail with ctx's error
// without being contacted.
func (r *Runner) Run(ctx context.Context, projects []config.ProjectConfig) []Result {
	results := make([]Result, 0, len(projects))

	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			result := FailedResult(project, err, r.now().UTC())
			r.logger.Warn("Keepalive skipped",
				slog.String("project", project.Label()),
				slog.Any("err", err))
			r.emitFailure(result)
			results = append(results, result)
			continue
		}

		results = append(results, r.KeepaliveProject(ctx, project))
	}

	return results
}

// KeepaliveProject ensures the keepalive database and collection exist and
// then updates the status document, creating it when it is missing.
func (r *Runner) KeepaliveProject(ctx context.Context, project config.ProjectConfig) Result {
	start := r.now()
	log := r.logger.With(slog.String("project", project.Label()))

	ctx, span := r.tracer.Start(ctx, "keepalive.project", trace.WithAttributes(
		attribute.String("appwrite.project_id", project.ProjectID),
		attribute.String("appwrite.endpoint", project.Endpoint),
	))
	defer span.End()

	result := Result{
		ProjectID: project.ProjectID,
		Name:      project.Name,
		Timestamp: start.UTC(),
	}

	heartbeat := Heartbeat{
		Timestamp: FormatTimestamp(start),
		Source:    r.source,
	}

	created, err := r.keepalive(ctx, log, project, r.newClient(project), heartbeat)
	result.Duration = r.now().Sub(start)

	if err != nil {
		result.Message = err.Error()
		result.Err = err

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Keepalive failed", slog.Any("err", err))
		r.emitFailure(result)

		return result
	}

	result.Success = true
	result.Created = created
	span.SetAttributes(attribute.Bool("keepalive.created", created))

	eventType := metrics.EventHeartbeatSent
	if created {
		result.Message = MessageCreated
		eventType = metrics.EventHeartbeatCreated
		log.Info("Created initial heartbeat", slog.String("timestamp", heartbeat.Timestamp))
	} else {
		result.Message = MessageSent
		log.Info("Heartbeat sent", slog.String("timestamp", heartbeat.Timestamp))
	}

	r.collector.Emit(metrics.MetricEvent{
		Type:      eventType,
		Timestamp: result.Timestamp,
		Project:   result.Label(),
		Duration:  result.Duration,
	})

	return result
}

func (r *Runner) keepalive(ctx context.Context, log *slog.Logger, project config.ProjectConfig, db Databases, heartbeat Heartbeat) (bool, error) {
	if err := r.ensureDatabase(ctx, log, project, db); err != nil {
		return false, err
	}

	if err := r.ensureCollection(ctx, log, project, db); err != nil {
		return false, err
	}

	created, err := upsertHeartbeat(ctx, db, heartbeat)
	if !appwrite.IsInvalidStructure(err) {
		return created, err
	}

	// A collection left without attributes by an interrupted first run.
	log.Warn("Heartbeat rejected by collection schema, repairing attributes", slog.Any("err", err))
	if err := r.ensureAttributes(ctx, log, db); err != nil {
		return false, err
	}

	return upsertHeartbeat(ctx, db, heartbeat)
}

func (r *Runner) ensureDatabase(ctx context.Context, log *slog.Logger, project config.ProjectConfig, db Databases) error {
	_, err := db.GetDatabase(ctx, DatabaseID)
	if err == nil {
		return nil
	}
	if !appwrite.IsNotFound(err) {
		return err
	}

	log.Info("Creating keepalive database", slog.String("database", DatabaseID))
	if _, err := db.CreateDatabase(ctx, DatabaseID, DatabaseName); err != nil {
		return err
	}
	r.emitResource(project, "database")

	return nil
}

func (r *Runner) ensureCollection(ctx context.Context, log *slog.Logger, project config.ProjectConfig, db Databases) error {
	_, err := db.GetCollection(ctx, DatabaseID, CollectionID)
	if err == nil {
		return nil
	}
	if !appwrite.IsNotFound(err) {
		return err
	}

	log.Info("Creating heartbeats collection", slog.String("collection", CollectionID))
	if _, err := db.CreateCollection(ctx, collectionRequest()); err != nil {
		return err
	}
	r.emitResource(project, "collection")

	if err := r.ensureAttributes(ctx, log, db); err != nil {
		return err
	}

	log.Info("Collection created with attributes")
	return nil
}

// ensureAttributes creates the heartbeat attributes, skipping ones that
// already exist, and waits for Appwrite to make them available.
func (r *Runner) ensureAttributes(ctx context.Context, log *slog.Logger, db Databases) error {
	err := db.CreateDatetimeAttribute(ctx, DatabaseID, CollectionID, TimestampAttribute, true)
	if err != nil && !appwrite.IsAlreadyExists(err) {
		return err
	}

	err = db.CreateStringAttribute(ctx, DatabaseID, CollectionID, SourceAttribute, SourceSize, true)
	if err != nil && !appwrite.IsAlreadyExists(err) {
		return err
	}

	log.Debug("Waiting for attributes", slog.Duration("wait", r.attributeWait))
	return r.sleep(ctx, r.attributeWait)
}

// upsertHeartbeat reports whether the document had to be created. Only a
// not-found update falls back to create; a create that races with another
// writer and conflicts is retried as an update once.
func upsertHeartbeat(ctx context.Context, db Databases, heartbeat Heartbeat) (bool, error) {
	_, err := db.UpdateDocument(ctx, DatabaseID, CollectionID, DocumentID, heartbeat)
	if err == nil {
		return false, nil
	}
	if !appwrite.IsNotFound(err) {
		return false, err
	}

	_, err = db.CreateDocument(ctx, DatabaseID, CollectionID, DocumentID, heartbeat,
		[]string{appwrite.Read(appwrite.RoleAny)})
	if err == nil {
		return true, nil
	}
	if !appwrite.IsAlreadyExists(err) {
		return false, err
	}

	if _, err := db.UpdateDocument(ctx, DatabaseID, CollectionID, DocumentID, heartbeat); err != nil {
		return false, err
	}
	return false, nil
}

func collectionRequest() appwrite.CreateCollectionRequest {
	return appwrite.CreateCollectionRequest{
		DatabaseID:       DatabaseID,
		CollectionID:     CollectionID,
		Name:             CollectionName,
		Permissions:      []string{appwrite.Read(appwrite.RoleAny), appwrite.Write(appwrite.RoleAny)},
		DocumentSecurity: false,
		Enabled:          true,
	}
}

func (r *Runner) emitFailure(result Result) {
	r.collector.Emit(metrics.MetricEvent{
		Type:      metrics.EventKeepaliveFailed,
		Timestamp: result.Timestamp,
		Project:   result.Label(),
		Duration:  result.Duration,
		Error:     result.Message,
	})
}

func (r *Runner) emitResource(project config.ProjectConfig, resource string) {
	r.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventResourceCreated,
		Project:  project.Label(),
		Resource: resource,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsContextError reports whether err came from a cancelled or expired context.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
