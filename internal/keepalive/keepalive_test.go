package keepalive_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/angeloszaimis/appwrite-keepalive/config"
	"github.com/angeloszaimis/appwrite-keepalive/internal/appwrite"
	"github.com/angeloszaimis/appwrite-keepalive/internal/keepalive"
	"github.com/angeloszaimis/appwrite-keepalive/internal/metrics"
)

var _ = Describe("Runner", func() {
	var (
		log     *slog.Logger
		ctx     context.Context
		db      *fakeDatabases
		now     time.Time
		slept   []time.Duration
		project config.ProjectConfig
		runner  *keepalive.Runner
	)

	newRunner := func(factory keepalive.ClientFactory, opts ...keepalive.Option) *keepalive.Runner {
		base := []keepalive.Option{
			keepalive.WithClock(func() time.Time { return now }),
			keepalive.WithSleeper(func(ctx context.Context, d time.Duration) error {
				slept = append(slept, d)
				return ctx.Err()
			}),
			keepalive.WithAttributeWait(2 * time.Second),
		}
		return keepalive.NewRunner(log, factory, append(base, opts...)...)
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx = context.Background()
		db = newFakeDatabases()
		now = time.Date(2026, 10, 14, 8, 30, 0, 123456789, time.UTC)
		slept = nil
		project = config.ProjectConfig{
			Endpoint:  "https://cloud.appwrite.io/v1",
			ProjectID: "alpha",
			APIKey:    "key",
			Name:      "Alpha",
		}
		runner = newRunner(func(config.ProjectConfig) keepalive.Databases { return db })
	})

	Describe("KeepaliveProject", func() {
		Context("when all resources exist", func() {
			It("should update the status document", func() {
				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeTrue())
				Expect(result.Created).To(BeFalse())
				Expect(result.Message).To(Equal(keepalive.MessageSent))
				Expect(result.ProjectID).To(Equal("alpha"))
				Expect(result.Name).To(Equal("Alpha"))
				Expect(result.Err).NotTo(HaveOccurred())
				Expect(db.Calls()).To(Equal([]string{"GetDatabase", "GetCollection", "UpdateDocument"}))
			})

			It("should write the formatted timestamp and source", func() {
				runner = newRunner(func(config.ProjectConfig) keepalive.Databases { return db },
					keepalive.WithSource("cron"))

				runner.KeepaliveProject(ctx, project)

				Expect(db.documents).To(ConsistOf(keepalive.Heartbeat{
					Timestamp: "2026-10-14T08:30:00.123Z",
					Source:    "cron",
				}))
			})
		})

		Context("when the status document is missing", func() {
			It("should create it readable by anyone", func() {
				db.fail("UpdateDocument", errNotFound)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeTrue())
				Expect(result.Created).To(BeTrue())
				Expect(result.Message).To(Equal(keepalive.MessageCreated))
				Expect(db.Calls()).To(Equal([]string{"GetDatabase", "GetCollection", "UpdateDocument", "CreateDocument"}))
				Expect(db.permissions).To(Equal([][]string{{`read("any")`}}))
			})

			It("should retry the update when the create conflicts", func() {
				db.fail("UpdateDocument", errNotFound)
				db.fail("CreateDocument", errConflict)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeTrue())
				Expect(result.Created).To(BeFalse())
				Expect(db.Calls()).To(Equal([]string{"GetDatabase", "GetCollection", "UpdateDocument", "CreateDocument", "UpdateDocument"}))
			})

			It("should fail when the create fails", func() {
				db.fail("UpdateDocument", errNotFound)
				db.fail("CreateDocument", errServer)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeFalse())
				Expect(result.Err).To(MatchError(errServer))
			})
		})

		Context("when the update fails for another reason", func() {
			It("should not fall back to create", func() {
				db.fail("UpdateDocument", errUnauthorized)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeFalse())
				Expect(result.Message).To(ContainSubstring("Invalid API key"))
				Expect(db.Calls()).NotTo(ContainElement("CreateDocument"))
			})
		})

		Context("when the database is missing", func() {
			It("should create it before writing", func() {
				db.fail("GetDatabase", errNotFound)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeTrue())
				Expect(db.Calls()).To(Equal([]string{"GetDatabase", "CreateDatabase", "GetCollection", "UpdateDocument"}))
			})

			It("should fail when the database cannot be created", func() {
				db.fail("GetDatabase", errNotFound)
				db.fail("CreateDatabase", errUnauthorized)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeFalse())
				Expect(db.Calls()).To(Equal([]string{"GetDatabase", "CreateDatabase"}))
			})
		})

		Context("when the database lookup fails", func() {
			It("should fail without creating anything", func() {
				db.fail("GetDatabase", errServer)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeFalse())
				Expect(db.Calls()).To(Equal([]string{"GetDatabase"}))
			})
		})

		Context("when the collection is missing", func() {
			It("should create the collection and its attributes", func() {
				db.fail("GetCollection", errNotFound)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeTrue())
				Expect(db.Calls()).To(Equal([]string{
					"GetDatabase",
					"GetCollection",
					"CreateCollection",
					"CreateDatetimeAttribute",
					"CreateStringAttribute",
					"UpdateDocument",
				}))
				Expect(slept).To(Equal([]time.Duration{2 * time.Second}))

				Expect(db.collections).To(HaveLen(1))
				Expect(db.collections[0].CollectionID).To(Equal(keepalive.CollectionID))
				Expect(db.collections[0].Permissions).To(Equal([]string{`read("any")`, `write("any")`}))
				Expect(db.collections[0].DocumentSecurity).To(BeFalse())
				Expect(db.collections[0].Enabled).To(BeTrue())
			})

			It("should stop when an attribute cannot be created", func() {
				db.fail("GetCollection", errNotFound)
				db.fail("CreateDatetimeAttribute", errServer)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeFalse())
				Expect(db.Calls()).NotTo(ContainElement("UpdateDocument"))
				Expect(slept).To(BeEmpty())
			})

			It("should accept attributes that already exist", func() {
				db.fail("GetCollection", errNotFound)
				db.fail("CreateDatetimeAttribute", errConflict)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeTrue())
				Expect(db.Calls()).To(ContainElement("CreateStringAttribute"))
			})

			It("should fail when the wait is cancelled", func() {
				db.fail("GetCollection", errNotFound)
				cancelled, cancel := context.WithCancel(ctx)
				cancel()

				result := runner.KeepaliveProject(cancelled, project)

				Expect(result.Success).To(BeFalse())
				Expect(keepalive.IsContextError(result.Err)).To(BeTrue())
			})
		})

		Context("when the collection exists without its attributes", func() {
			It("should repair the attributes and write again", func() {
				db.fail("UpdateDocument", errInvalidStructure)
				db.fail("CreateDatetimeAttribute", errConflict)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeTrue())
				Expect(result.Message).To(Equal(keepalive.MessageSent))
				Expect(db.Calls()).To(Equal([]string{
					"GetDatabase",
					"GetCollection",
					"UpdateDocument",
					"CreateDatetimeAttribute",
					"CreateStringAttribute",
					"UpdateDocument",
				}))
				Expect(slept).To(Equal([]time.Duration{2 * time.Second}))
			})

			It("should create the document after the repair when it is missing", func() {
				db.fail("UpdateDocument", errInvalidStructure, errNotFound)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeTrue())
				Expect(result.Created).To(BeTrue())
				Expect(db.Calls()).To(HaveLen(7))
				Expect(db.Calls()[6]).To(Equal("CreateDocument"))
			})

			It("should repair only once", func() {
				db.fail("UpdateDocument", errInvalidStructure, errInvalidStructure)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeFalse())
				Expect(appwrite.IsInvalidStructure(result.Err)).To(BeTrue())
				Expect(db.Calls()).To(HaveLen(6))
			})

			It("should fail when an attribute cannot be repaired", func() {
				db.fail("UpdateDocument", errInvalidStructure)
				db.fail("CreateStringAttribute", errUnauthorized)

				result := runner.KeepaliveProject(ctx, project)

				Expect(result.Success).To(BeFalse())
				Expect(result.Err).To(MatchError(errUnauthorized))
				Expect(slept).To(BeEmpty())
			})
		})

		It("should record a span per project", func() {
			recorder := tracetest.NewSpanRecorder()
			provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
			runner = newRunner(func(config.ProjectConfig) keepalive.Databases { return db },
				keepalive.WithTracer(provider.Tracer("test")))
			db.fail("UpdateDocument", errUnauthorized)

			runner.KeepaliveProject(ctx, project)

			spans := recorder.Ended()
			Expect(spans).To(HaveLen(1))
			Expect(spans[0].Name()).To(Equal("keepalive.project"))
			Expect(spans[0].Status().Code).To(Equal(codes.Error))
		})

		It("should emit metric events", func() {
			collectorCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			collector := metrics.NewCollector(16, log)
			collector.Start(collectorCtx)
			runner = newRunner(func(config.ProjectConfig) keepalive.Databases { return db },
				keepalive.WithCollector(collector))
			db.fail("GetDatabase", errNotFound)
			db.fail("UpdateDocument", errNotFound)

			runner.KeepaliveProject(ctx, project)

			Eventually(func() metrics.ProjectMetrics {
				return collector.Snapshot().Projects["Alpha"]
			}).Should(And(
				HaveField("Successes", int64(1)),
				HaveField("HeartbeatsCreated", int64(1)),
				HaveField("ResourcesCreated", int64(1)),
			))
		})
	})

	Describe("Run", func() {
		It("should return one result per project in order", func() {
			clients := map[string]*fakeDatabases{
				"a": newFakeDatabases(),
				"b": newFakeDatabases().fail("UpdateDocument", errUnauthorized),
				"c": newFakeDatabases().fail("UpdateDocument", errNotFound),
			}
			runner = newRunner(func(p config.ProjectConfig) keepalive.Databases { return clients[p.ProjectID] })

			projects := []config.ProjectConfig{
				{Endpoint: "https://e/v1", ProjectID: "a", APIKey: "k"},
				{Endpoint: "https://e/v1", ProjectID: "b", APIKey: "k"},
				{Endpoint: "https://e/v1", ProjectID: "c", APIKey: "k"},
			}

			results := runner.Run(ctx, projects)

			Expect(results).To(HaveLen(3))
			Expect(results[0].ProjectID).To(Equal("a"))
			Expect(results[0].Success).To(BeTrue())
			Expect(results[1].ProjectID).To(Equal("b"))
			Expect(results[1].Success).To(BeFalse())
			Expect(results[2].ProjectID).To(Equal("c"))
			Expect(results[2].Created).To(BeTrue())
		})

		It("should handle an empty project list", func() {
			Expect(runner.Run(ctx, nil)).To(BeEmpty())
		})

		It("should fail remaining projects once the context is done", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			results := runner.Run(cancelled, []config.ProjectConfig{project, project})

			Expect(results).To(HaveLen(2))
			for _, r := range results {
				Expect(r.Success).To(BeFalse())
				Expect(errors.Is(r.Err, context.Canceled)).To(BeTrue())
			}
			Expect(db.Calls()).To(BeEmpty())
		})
	})

	Describe("against an Appwrite server", func() {
		var server *ghttp.Server

		BeforeEach(func() {
			server = ghttp.NewServer()
			project.Endpoint = server.URL() + "/v1"
			runner = newRunner(keepalive.NewAppwriteClientFactory(time.Second))
		})

		AfterEach(func() {
			server.Close()
		})

		notFound := ghttp.RespondWithJSONEncoded(http.StatusNotFound, map[string]any{
			"message": "could not be found", "code": 404,
		})

		It("should bootstrap everything on first run", func() {
			server.AppendHandlers(
				ghttp.CombineHandlers(ghttp.VerifyRequest(http.MethodGet, "/v1/databases/_keepalive"), notFound),
				ghttp.CombineHandlers(ghttp.VerifyRequest(http.MethodPost, "/v1/databases"),
					ghttp.RespondWith(http.StatusCreated, `{"$id":"_keepalive"}`)),
				ghttp.CombineHandlers(ghttp.VerifyRequest(http.MethodGet, "/v1/databases/_keepalive/collections/heartbeats"), notFound),
				ghttp.CombineHandlers(ghttp.VerifyRequest(http.MethodPost, "/v1/databases/_keepalive/collections"),
					ghttp.RespondWith(http.StatusCreated, `{"$id":"heartbeats"}`)),
				ghttp.CombineHandlers(ghttp.VerifyRequest(http.MethodPost, "/v1/databases/_keepalive/collections/heartbeats/attributes/datetime"),
					ghttp.RespondWith(http.StatusAccepted, `{}`)),
				ghttp.CombineHandlers(ghttp.VerifyRequest(http.MethodPost, "/v1/databases/_keepalive/collections/heartbeats/attributes/string"),
					ghttp.RespondWith(http.StatusAccepted, `{}`)),
				ghttp.CombineHandlers(ghttp.VerifyRequest(http.MethodPatch, "/v1/databases/_keepalive/collections/heartbeats/documents/status"), notFound),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/v1/databases/_keepalive/collections/heartbeats/documents"),
					ghttp.VerifyHeaderKV("X-Appwrite-Project", "alpha"),
					ghttp.VerifyJSON(`{
						"documentId": "status",
						"data": {"timestamp": "2026-10-14T08:30:00.123Z", "source": "github-actions"},
						"permissions": ["read(\"any\")"]
					}`),
					ghttp.RespondWith(http.StatusCreated, `{"$id":"status"}`)),
			)

			result := runner.KeepaliveProject(ctx, project)

			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.Created).To(BeTrue())
			Expect(server.ReceivedRequests()).To(HaveLen(8))
		})

		It("should only touch the document on later runs", func() {
			server.AppendHandlers(
				ghttp.RespondWith(http.StatusOK, `{"$id":"_keepalive"}`),
				ghttp.RespondWith(http.StatusOK, `{"$id":"heartbeats"}`),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPatch, "/v1/databases/_keepalive/collections/heartbeats/documents/status"),
					ghttp.RespondWith(http.StatusOK, `{"$id":"status"}`)),
			)

			result := runner.KeepaliveProject(ctx, project)

			Expect(result.Success).To(BeTrue())
			Expect(result.Created).To(BeFalse())
			Expect(server.ReceivedRequests()).To(HaveLen(3))
		})
	})
})

var _ = Describe("Result", func() {
	It("should label by name, then project id", func() {
		Expect(keepalive.Result{ProjectID: "p", Name: "Named"}.Label()).To(Equal("Named"))
		Expect(keepalive.Result{ProjectID: "p"}.Label()).To(Equal("p"))
	})

	It("should label results like the project they belong to", func() {
		for _, p := range []config.ProjectConfig{
			{ProjectID: "alpha", Name: "Alpha"},
			{ProjectID: "beta"},
		} {
			Expect(keepalive.FailedResult(p, errServer, time.Now()).Label()).To(Equal(p.Label()))
		}
	})

	It("should build failures for projects that were not contacted", func() {
		at := time.Now()
		r := keepalive.FailedResult(config.ProjectConfig{ProjectID: "p"}, errors.New("skipped"), at)
		Expect(r.Success).To(BeFalse())
		Expect(r.Message).To(Equal("skipped"))
		Expect(r.Timestamp).To(Equal(at))
	})
})

var _ = Describe("FormatTimestamp", func() {
	It("should render UTC with milliseconds", func() {
		t := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.FixedZone("CET", 3600))
		Expect(keepalive.FormatTimestamp(t)).To(Equal("2026-01-02T02:04:05.006Z"))
	})
})

var _ = Describe("appwrite errors", func() {
	It("should match not found through wrapping", func() {
		wrapped := errors.Join(errors.New("context"), errNotFound)
		Expect(appwrite.IsNotFound(wrapped)).To(BeTrue())
	})
})
