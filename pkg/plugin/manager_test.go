package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bearslyricattack/plugman/pkg/config"
	"github.com/bearslyricattack/plugman/pkg/constants"
	"github.com/bearslyricattack/plugman/pkg/descriptor"
	"github.com/bearslyricattack/plugman/pkg/enabledset"
	"github.com/bearslyricattack/plugman/pkg/eventbus"
	"github.com/bearslyricattack/plugman/pkg/hooks"
	"github.com/bearslyricattack/plugman/pkg/installer"
	"github.com/bearslyricattack/plugman/pkg/loader"
	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/manifest"
	"github.com/bearslyricattack/plugman/pkg/migration"
	"github.com/bearslyricattack/plugman/pkg/models"
	"github.com/bearslyricattack/plugman/pkg/publisher"
	"github.com/bearslyricattack/plugman/pkg/storage"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPluginManager(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Plugin Manager Suite")
}

const (
	blogEntryPoint    = `Vendor\Blog\BlogPlugin`
	shopEntryPoint    = `Vendor\Shop\ShopPlugin`
	galleryEntryPoint = `Vendor\Gallery\GalleryPlugin`

	blogManifest = `{"id":"blog","namespace":"Vendor\\Blog\\","entry_point":"Vendor\\Blog\\BlogPlugin","version":"1.0.0"}`
	shopManifest = `{"id":"shop","name":"Shop","namespace":"Vendor\\Shop\\","entry_point":"Vendor\\Shop\\ShopPlugin","version":"1.0.0","requires":["blog"]}`

	blogMigration = "2024_01_01_000000_create_blog_posts_table"
)

// probe is a plugin entry point that counts hook calls and fails on demand.
type probe struct {
	mu    sync.Mutex
	calls map[hooks.Name]int
	fail  map[hooks.Name]error
}

func newProbe() *probe {
	return &probe{calls: make(map[hooks.Name]int), fail: make(map[hooks.Name]error)}
}

func (p *probe) record(name hooks.Name) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[name]++
	return p.fail[name]
}

func (p *probe) count(name hooks.Name) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *probe) failOn(name hooks.Name, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[name] = err
}

func (p *probe) Activate(context.Context) error    { return p.record(hooks.Activate) }
func (p *probe) Activated(context.Context) error   { return p.record(hooks.Activated) }
func (p *probe) Deactivate(context.Context) error  { return p.record(hooks.Deactivate) }
func (p *probe) Deactivated(context.Context) error { return p.record(hooks.Deactivated) }
func (p *probe) Remove(context.Context) error      { return p.record(hooks.Remove) }
func (p *probe) Removed(context.Context) error     { return p.record(hooks.Removed) }
func (p *probe) Updating(context.Context) error    { return p.record(hooks.Updating) }
func (p *probe) Updated(context.Context) error     { return p.record(hooks.Updated) }

// outcomes records what traced operations reported.
type outcomes struct {
	mu   sync.Mutex
	seen []string
}

func (o *outcomes) RecordOperation(name string, _ time.Duration, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, name+":"+outcome)
}

func (o *outcomes) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.seen...)
}

var _ = Describe("Manager", func() {
	var (
		ctx          context.Context
		root         string
		publicRoot   string
		langRoot     string
		manifestPath string

		settings    *storage.GormSettingStore
		descriptors *descriptor.Store
		enabled     *enabledset.Store
		runner      *migration.Runner
		registry    *loader.StaticRegistry
		bus         *eventbus.EventBus
		events      eventbus.EventChan
		probes      map[string]*probe
		mgr         *Manager
		extraCache  int
	)

	writePlugin := func(id, manifestJSON string, files map[string]string) {
		GinkgoHelper()
		dir := filepath.Join(root, id)
		Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(manifestJSON), 0o644)).To(Succeed())
		for name, content := range files {
			path := filepath.Join(dir, name)
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		}
	}

	installBlog := func() {
		GinkgoHelper()
		writePlugin("blog", blogManifest, map[string]string{
			"database/migrations/" + blogMigration + ".sql": "CREATE TABLE IF NOT EXISTS blog_posts (id INTEGER PRIMARY KEY, title TEXT);",
			"public/css/blog.css":                           "body{}",
			"resources/lang/en/blog.json":                   `{"title":"Blog"}`,
		})
	}

	installShop := func() {
		GinkgoHelper()
		writePlugin("shop", shopManifest, nil)
	}

	storedSet := func() []string {
		GinkgoHelper()
		raw, ok, err := settings.Get(ctx, constants.ActivatedPluginsSetting)
		Expect(err).NotTo(HaveOccurred())
		if !ok {
			return []string{}
		}
		var ids []string
		Expect(json.Unmarshal([]byte(raw), &ids)).To(Succeed())
		return ids
	}

	receivedEvents := func() []models.LifecycleEvent {
		var out []models.LifecycleEvent
		for {
			select {
			case evt := <-events:
				out = append(out, evt.Payload.(models.LifecycleEvent))
			default:
				return out
			}
		}
	}

	kinds := func(evts []models.LifecycleEvent) []models.EventKind {
		out := make([]models.EventKind, 0, len(evts))
		for _, e := range evts {
			out = append(out, e.Kind)
		}
		return out
	}

	mustActivate := func(id string) {
		GinkgoHelper()
		res, err := mgr.Activate(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Error).To(BeFalse(), res.Message)
	}

	newManager := func(reg loader.CodeRegistry) *Manager {
		return NewManager(Components{
			Descriptors: descriptors,
			Loader:      loader.New(reg, descriptors.SourceDir),
			Migrations:  runner,
			Publisher:   publisher.New(descriptors, publicRoot, langRoot),
			Enabled:     enabled,
			Manifest:    manifest.NewGenerator(manifestPath, descriptors),
			EventBus:    bus,
			Caches: []enabledset.LifecycleCache{enabledset.CacheFunc(func(context.Context) error {
				extraCache++
				return nil
			})},
			HostVersion: "1.0.0",
			Logger:      logger.Discard(),
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		base := GinkgoT().TempDir()
		root = filepath.Join(base, "plugins")
		publicRoot = filepath.Join(base, "public")
		langRoot = filepath.Join(base, "lang")
		manifestPath = filepath.Join(base, "storage", "plugins.json")
		Expect(os.MkdirAll(root, 0o755)).To(Succeed())

		db, err := storage.Open(config.DatabaseConfig{
			Driver: config.DriverSQLite,
			DSN:    filepath.Join(base, "plugman.db"),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(storage.Close, db)

		settings = storage.NewSettingStore(db)
		descriptors = descriptor.NewStore(root, descriptor.WithLogger(logger.Discard()))
		enabled = enabledset.NewStore(settings, storage.NewCacheStore(db), descriptors, enabledset.Options{CacheEnabled: true})
		runner = migration.NewRunner(db)

		probes = map[string]*probe{
			blogEntryPoint:    newProbe(),
			shopEntryPoint:    newProbe(),
			galleryEntryPoint: newProbe(),
		}
		factories := make(map[string]loader.Factory, len(probes))
		for ep, p := range probes {
			factories[ep] = func() any { return p }
		}
		registry = loader.NewStaticRegistryWith(factories)

		bus = eventbus.NewEventBus(100)
		events = bus.Subscribe(constants.LifecycleTopic)
		extraCache = 0
		mgr = newManager(registry)
	})

	Describe("Activate", func() {
		It("should enable the blog plugin and emit one Activated event", func() {
			installBlog()

			res, err := mgr.Activate(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeFalse())
			Expect(res.Code).To(Equal(models.CodeOK))
			Expect(storedSet()).To(Equal([]string{"blog"}))

			evts := receivedEvents()
			Expect(kinds(evts)).To(Equal([]models.EventKind{models.EventActivated}))
			Expect(evts[0].PluginID).To(Equal("blog"))
		})

		It("should load the code and run setup the first time", func() {
			installBlog()
			mustActivate("blog")

			blog := probes[blogEntryPoint]
			Expect(registry.IsRegistered(blogEntryPoint)).To(BeTrue())
			Expect(blog.count(hooks.Activate)).To(Equal(1))
			Expect(blog.count(hooks.Activated)).To(Equal(1))
			Expect(runner.Applied(ctx)).To(Equal([]string{blogMigration}))
			Expect(filepath.Join(publicRoot, "vendor", "core", "plugins", "blog", "css", "blog.css")).To(BeARegularFile())
			Expect(filepath.Join(langRoot, "vendor", "plugins", "blog", "en", "blog.json")).To(BeARegularFile())
			Expect(extraCache).To(BeNumerically(">=", 2))
		})

		It("should regenerate the manifest of active plugins", func() {
			installBlog()
			mustActivate("blog")

			m, err := manifest.Load(manifestPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Plugins).To(HaveLen(1))
			Expect(m.Plugins[0].ID).To(Equal("blog"))
			Expect(m.Plugins[0].EntryPoint).To(Equal(blogEntryPoint))
		})

		It("should report a second activation as already active without rerunning setup", func() {
			installBlog()
			mustActivate("blog")
			receivedEvents()

			res, err := mgr.Activate(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeFalse())
			Expect(res.Code).To(Equal(models.CodeAlreadyActive))

			Expect(probes[blogEntryPoint].count(hooks.Activate)).To(Equal(1))
			Expect(runner.Applied(ctx)).To(HaveLen(1))
			Expect(receivedEvents()).To(BeEmpty())
		})

		It("should refuse a plugin whose requirements are not enabled", func() {
			installBlog()
			installShop()

			res, err := mgr.Activate(ctx, "shop")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeTrue())
			Expect(res.Code).To(Equal(models.CodeDependency))
			Expect(res.Message).To(ContainSubstring("blog"))
			Expect(res.Data).To(Equal([]string{"blog"}))
			Expect(storedSet()).To(BeEmpty())
			Expect(registry.IsRegistered(shopEntryPoint)).To(BeFalse())
		})

		It("should activate a plugin once its requirements are enabled", func() {
			installBlog()
			installShop()
			mustActivate("blog")
			mustActivate("shop")
			Expect(storedSet()).To(Equal([]string{"blog", "shop"}))
		})

		It("should match requirements by their last path segment", func() {
			installBlog()
			writePlugin("gallery", `{"id":"gallery","namespace":"Vendor\\Gallery\\","entry_point":"Vendor\\Gallery\\GalleryPlugin","requires":["vendor/blog"]}`, nil)
			mustActivate("blog")
			mustActivate("gallery")
		})

		DescribeTable("should reject manifests missing activation fields without touching the enabled set",
			func(manifestJSON, field string) {
				writePlugin("partial", manifestJSON, nil)
				res, err := mgr.Activate(ctx, "partial")
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Error).To(BeTrue())
				Expect(res.Code).To(Equal(models.CodeValidation))
				Expect(res.Message).To(ContainSubstring(field))
				Expect(storedSet()).To(BeEmpty())
			},
			Entry("namespace", `{"id":"partial","entry_point":"Vendor\\Blog\\BlogPlugin"}`, "namespace"),
			Entry("entry point", `{"id":"partial","namespace":"Vendor\\Blog\\"}`, "entry_point"),
			Entry("both", `{"id":"partial"}`, "namespace"),
		)

		It("should always refuse denylisted plugins", func() {
			writePlugin("activator", blogManifest, nil)
			res, err := mgr.Activate(ctx, "activator")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeTrue())
			Expect(storedSet()).To(BeEmpty())
		})

		It("should refuse plugins that do not exist", func() {
			res, err := mgr.Activate(ctx, "ghost")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeTrue())
			Expect(res.Message).To(ContainSubstring("does not exist"))
		})

		It("should name required and current versions when the host is too old", func() {
			writePlugin("blog", `{"id":"blog","namespace":"Vendor\\Blog\\","entry_point":"Vendor\\Blog\\BlogPlugin","minimum_host_version":"9.0.0"}`, nil)
			res, err := mgr.Activate(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Code).To(Equal(models.CodeVersion))
			Expect(res.Message).To(ContainSubstring("9.0.0"))
			Expect(res.Message).To(ContainSubstring("1.0.0"))
			Expect(storedSet()).To(BeEmpty())
		})

		It("should refuse plugins the publisher marked as not ready", func() {
			writePlugin("blog", `{"id":"blog","namespace":"Vendor\\Blog\\","entry_point":"Vendor\\Blog\\BlogPlugin","ready":false}`, nil)
			res, err := mgr.Activate(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Code).To(Equal(models.CodeNotReady))
			Expect(storedSet()).To(BeEmpty())
		})

		It("should propagate a failing activate hook without enabling the plugin", func() {
			installBlog()
			boom := errors.New("schema check failed")
			probes[blogEntryPoint].failOn(hooks.Activate, boom)

			res, err := mgr.Activate(ctx, "blog")
			Expect(res).To(BeNil())
			var hookErr *hooks.HookError
			Expect(errors.As(err, &hookErr)).To(BeTrue())
			Expect(hookErr.Hook).To(Equal(hooks.Activate))
			Expect(errors.Is(err, boom)).To(BeTrue())
			Expect(storedSet()).To(BeEmpty())
			Expect(receivedEvents()).To(BeEmpty())
		})

		It("should fail fatally when the plugin code cannot be loaded", func() {
			writePlugin("orphan", `{"id":"orphan","namespace":"Vendor\\Orphan\\","entry_point":"Vendor\\Orphan\\OrphanPlugin"}`, nil)
			_, err := mgr.Activate(ctx, "orphan")
			Expect(errors.Is(err, loader.ErrCodeLoad)).To(BeTrue())
			Expect(storedSet()).To(BeEmpty())
		})

		It("should abort before enabling when assets cannot be published", func() {
			installBlog()
			Expect(os.WriteFile(publicRoot, []byte("not a directory"), 0o644)).To(Succeed())

			res, err := mgr.Activate(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeTrue())
			Expect(res.Code).To(Equal(models.CodePublish))
			Expect(storedSet()).To(BeEmpty())
		})

		It("should repeat setup on retry while the activate hook keeps failing", func() {
			installBlog()
			blog := probes[blogEntryPoint]
			blog.failOn(hooks.Activate, errors.New("schema check failed"))

			for range 2 {
				_, err := mgr.Activate(ctx, "blog")
				var hookErr *hooks.HookError
				Expect(errors.As(err, &hookErr)).To(BeTrue())
				Expect(storedSet()).To(BeEmpty())
				Expect(registry.IsRegistered(blogEntryPoint)).To(BeFalse())
			}
			Expect(blog.count(hooks.Activate)).To(Equal(2))
			Expect(runner.Applied(ctx)).To(BeEmpty())

			blog.failOn(hooks.Activate, nil)
			mustActivate("blog")
			Expect(blog.count(hooks.Activate)).To(Equal(3))
			Expect(runner.Applied(ctx)).To(Equal([]string{blogMigration}))
		})

		It("should keep refusing while assets cannot be published", func() {
			installBlog()
			Expect(os.WriteFile(publicRoot, []byte("not a directory"), 0o644)).To(Succeed())

			for range 2 {
				res, err := mgr.Activate(ctx, "blog")
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Code).To(Equal(models.CodePublish))
				Expect(storedSet()).To(BeEmpty())
			}

			Expect(os.Remove(publicRoot)).To(Succeed())
			mustActivate("blog")
			Expect(filepath.Join(publicRoot, "vendor", "core", "plugins", "blog", "css", "blog.css")).To(BeARegularFile())
		})

		It("should keep refusing while a migration fails", func() {
			writePlugin("blog", blogManifest, map[string]string{
				"database/migrations/2024_01_01_000000_broken.sql": "CREATE TABLE (;",
			})

			for range 2 {
				_, err := mgr.Activate(ctx, "blog")
				Expect(err).To(MatchError(ContainSubstring("run migrations of plugin blog")))
				Expect(storedSet()).To(BeEmpty())
			}
			Expect(probes[blogEntryPoint].count(hooks.Activate)).To(Equal(2))
		})

		It("should record rejected operations apart from failures", func() {
			rec := &outcomes{}
			logger.SetRecorder(rec)
			DeferCleanup(logger.SetRecorder, nil)

			installBlog()
			installShop()
			_, err := mgr.Activate(ctx, "shop")
			Expect(err).NotTo(HaveOccurred())
			mustActivate("blog")
			probes[shopEntryPoint].failOn(hooks.Activate, errors.New("boom"))
			_, err = mgr.Activate(ctx, "shop")
			Expect(err).To(HaveOccurred())

			Expect(rec.list()).To(Equal([]string{
				"activate:" + logger.OutcomeRejected,
				"activate:" + logger.OutcomeSuccess,
				"activate:" + logger.OutcomeError,
			}))
		})

		It("should heal enabled entries whose plugin directory is gone", func() {
			installBlog()
			Expect(settings.Set(ctx, constants.ActivatedPluginsSetting, `["ghost"]`)).To(Succeed())
			mustActivate("blog")
			Expect(storedSet()).To(Equal([]string{"blog"}))
		})

		It("should serialise concurrent activations of the same plugin", func() {
			installBlog()
			var wg sync.WaitGroup
			results := make([]*models.Result, 5)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()
					res, err := mgr.Activate(ctx, "blog")
					Expect(err).NotTo(HaveOccurred())
					results[i] = res
				}(i)
			}
			wg.Wait()

			activated := 0
			for _, res := range results {
				if res.Code == models.CodeOK {
					activated++
				} else {
					Expect(res.Code).To(Equal(models.CodeAlreadyActive))
				}
			}
			Expect(activated).To(Equal(1))
			Expect(probes[blogEntryPoint].count(hooks.Activate)).To(Equal(1))
			Expect(kinds(receivedEvents())).To(Equal([]models.EventKind{models.EventActivated}))
		})
	})

	Describe("Deactivate", func() {
		BeforeEach(func() {
			installBlog()
			installShop()
		})

		It("should disable the plugin and emit a Deactivated event", func() {
			mustActivate("blog")
			receivedEvents()

			res, err := mgr.Deactivate(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeFalse())
			Expect(storedSet()).To(BeEmpty())

			blog := probes[blogEntryPoint]
			Expect(blog.count(hooks.Deactivate)).To(Equal(1))
			Expect(blog.count(hooks.Deactivated)).To(Equal(1))
			Expect(kinds(receivedEvents())).To(Equal([]models.EventKind{models.EventDeactivated}))

			m, err := manifest.Load(manifestPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Plugins).To(BeEmpty())
		})

		It("should refuse while an enabled plugin requires it", func() {
			mustActivate("blog")
			mustActivate("shop")

			res, err := mgr.Deactivate(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeTrue())
			Expect(res.Code).To(Equal(models.CodeDependency))
			Expect(res.Message).To(ContainSubstring("Shop"))
			Expect(res.Data).To(HaveKeyWithValue("shop", "Shop"))
			Expect(storedSet()).To(ContainElement("blog"))
			Expect(probes[blogEntryPoint].count(hooks.Deactivate)).To(BeZero())
		})

		It("should report an inactive plugin as already inactive", func() {
			res, err := mgr.Deactivate(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeFalse())
			Expect(res.Code).To(Equal(models.CodeAlreadyInactive))
			Expect(receivedEvents()).To(BeEmpty())
		})

		It("should keep the plugin enabled when the deactivate hook fails", func() {
			mustActivate("blog")
			probes[blogEntryPoint].failOn(hooks.Deactivate, errors.New("busy"))

			_, err := mgr.Deactivate(ctx, "blog")
			Expect(err).To(MatchError(ContainSubstring("busy")))
			Expect(storedSet()).To(Equal([]string{"blog"}))
		})

		It("should round-trip without reapplying migrations", func() {
			mustActivate("blog")
			res, err := mgr.Deactivate(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeFalse())
			mustActivate("blog")

			Expect(storedSet()).To(Equal([]string{"blog"}))
			Expect(runner.Applied(ctx)).To(Equal([]string{blogMigration}))

			blog := probes[blogEntryPoint]
			Expect(blog.count(hooks.Activate)).To(Equal(1))
			Expect(blog.count(hooks.Activated)).To(Equal(2))
			Expect(blog.count(hooks.Deactivate)).To(Equal(1))
			Expect(blog.count(hooks.Deactivated)).To(Equal(1))
		})
	})

	Describe("Remove", func() {
		BeforeEach(func() {
			installBlog()
		})

		It("should deactivate, purge and delete the plugin even when teardown fails", func() {
			mustActivate("blog")
			receivedEvents()
			probes[blogEntryPoint].failOn(hooks.Remove, errors.New("teardown broke"))

			res, err := mgr.Remove(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeFalse())

			Expect(storedSet()).To(BeEmpty())
			Expect(filepath.Join(root, "blog")).NotTo(BeADirectory())
			Expect(filepath.Join(publicRoot, "vendor", "core", "plugins", "blog")).NotTo(BeADirectory())
			Expect(runner.Applied(ctx)).To(BeEmpty())

			blog := probes[blogEntryPoint]
			Expect(blog.count(hooks.Deactivate)).To(Equal(1))
			Expect(blog.count(hooks.Remove)).To(Equal(1))
			Expect(blog.count(hooks.Removed)).To(Equal(1))
			Expect(kinds(receivedEvents())).To(Equal([]models.EventKind{models.EventDeactivated, models.EventRemoved}))
		})

		It("should keep the plugins directory after removing the last plugin", func() {
			res, err := mgr.Remove(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeFalse())
			Expect(root).To(BeADirectory())
			Expect(descriptors.Discover()).To(BeEmpty())
		})

		It("should replay migrations after the plugin is reinstalled", func() {
			mustActivate("blog")
			res, err := mgr.Remove(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeFalse())

			installBlog()
			mustActivate("blog")
			Expect(runner.Applied(ctx)).To(Equal([]string{blogMigration}))
			Expect(probes[blogEntryPoint].count(hooks.Activate)).To(Equal(2))
		})

		It("should be blocked by enabled dependents", func() {
			installShop()
			mustActivate("blog")
			mustActivate("shop")

			res, err := mgr.Remove(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeTrue())
			Expect(res.Message).To(ContainSubstring("Shop"))
			Expect(filepath.Join(root, "blog")).To(BeADirectory())
			Expect(storedSet()).To(Equal([]string{"blog", "shop"}))
			Expect(probes[blogEntryPoint].count(hooks.Remove)).To(BeZero())
		})

		It("should remove a plugin that was never activated", func() {
			res, err := mgr.Remove(ctx, "blog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeFalse())
			Expect(filepath.Join(root, "blog")).NotTo(BeADirectory())
			Expect(kinds(receivedEvents())).To(Equal([]models.EventKind{models.EventRemoved}))
		})

		It("should remove a plugin whose code is not linked", func() {
			writePlugin("orphan", `{"id":"orphan","namespace":"Vendor\\Orphan\\","entry_point":"Vendor\\Orphan\\OrphanPlugin"}`, nil)
			res, err := mgr.Remove(ctx, "orphan")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeFalse())
			Expect(filepath.Join(root, "orphan")).NotTo(BeADirectory())
		})
	})

	Describe("Update", func() {
		BeforeEach(func() {
			installBlog()
			mustActivate("blog")
			receivedEvents()
		})

		It("should return the procedure result verbatim between the update hooks", func() {
			custom := &models.Result{Code: models.CodeOK, Message: "downloaded 1.1.0", Data: 42}
			probes[blogEntryPoint].failOn(hooks.Updating, errors.New("ignored"))

			ran := false
			res, err := mgr.Update(ctx, "blog", func(context.Context) (*models.Result, error) {
				ran = true
				Expect(probes[blogEntryPoint].count(hooks.Updating)).To(Equal(1))
				Expect(probes[blogEntryPoint].count(hooks.Updated)).To(BeZero())
				return custom, nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(ran).To(BeTrue())
			Expect(res).To(BeIdenticalTo(custom))
			Expect(probes[blogEntryPoint].count(hooks.Updated)).To(Equal(1))
			Expect(kinds(receivedEvents())).To(Equal([]models.EventKind{models.EventUpdating, models.EventUpdated}))
			Expect(storedSet()).To(Equal([]string{"blog"}))
		})

		It("should pass error results through unchanged", func() {
			failed := models.Failure(models.CodeValidation, "checksum mismatch")
			res, err := mgr.Update(ctx, "blog", func(context.Context) (*models.Result, error) {
				return failed, nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(BeIdenticalTo(failed))
		})

		It("should propagate procedure errors", func() {
			boom := errors.New("disk full")
			_, err := mgr.Update(ctx, "blog", func(context.Context) (*models.Result, error) {
				return nil, boom
			})
			Expect(errors.Is(err, boom)).To(BeTrue())
			Expect(probes[blogEntryPoint].count(hooks.Updated)).To(BeZero())
			Expect(kinds(receivedEvents())).To(Equal([]models.EventKind{models.EventUpdating}))
		})

		It("should validate the plugin before running the procedure", func() {
			ran := false
			res, err := mgr.Update(ctx, "ghost", func(context.Context) (*models.Result, error) {
				ran = true
				return nil, nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeTrue())
			Expect(ran).To(BeFalse())
		})

		Describe("RefreshProcedure", func() {
			var pkg string

			BeforeEach(func() {
				pkg = filepath.Join(GinkgoT().TempDir(), "blog-1.1.0")
				Expect(os.MkdirAll(filepath.Join(pkg, "database", "migrations"), 0o755)).To(Succeed())
			})

			It("should install the package and apply its new migrations", func() {
				Expect(os.WriteFile(filepath.Join(pkg, "plugin.json"),
					[]byte(`{"id":"blog","namespace":"Vendor\\Blog\\","entry_point":"Vendor\\Blog\\BlogPlugin","version":"1.1.0"}`), 0o644)).To(Succeed())
				Expect(os.WriteFile(filepath.Join(pkg, "database", "migrations", "2024_06_01_000000_create_blog_tags_table.sql"),
					[]byte("CREATE TABLE IF NOT EXISTS blog_tags (id INTEGER PRIMARY KEY);"), 0o644)).To(Succeed())

				res, err := mgr.Update(ctx, "blog", mgr.RefreshProcedure(installer.New(descriptors), pkg, "blog"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Error).To(BeFalse(), res.Message)
				Expect(res.Data).To(Equal(map[string]string{"version": "1.1.0"}))

				Expect(runner.Applied(ctx)).To(Equal([]string{blogMigration, "2024_06_01_000000_create_blog_tags_table"}))
				desc, err := descriptors.Describe("blog")
				Expect(err).NotTo(HaveOccurred())
				Expect(desc.Version).To(Equal("1.1.0"))
			})

			It("should report invalid packages as a validation result", func() {
				Expect(os.WriteFile(filepath.Join(pkg, "plugin.json"),
					[]byte(`{"namespace":"Vendor\\Blog\\","entry_point":"Vendor\\Blog\\BlogPlugin"}`), 0o644)).To(Succeed())

				res, err := mgr.Update(ctx, "blog", mgr.RefreshProcedure(installer.New(descriptors), pkg, "blog"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Error).To(BeTrue())
				Expect(res.Code).To(Equal(models.CodeValidation))
			})
		})
	})

	Describe("ClearCache", func() {
		It("should drop the cached enabled set for unrelated callers", func() {
			installBlog()
			mustActivate("blog")
			Expect(enabled.Load(ctx)).To(Equal([]string{"blog"}))

			Expect(settings.Set(ctx, constants.ActivatedPluginsSetting, `[]`)).To(Succeed())
			Expect(enabled.Load(ctx)).To(Equal([]string{"blog"}))

			before := extraCache
			Expect(mgr.ClearCache(ctx)).To(Succeed())
			Expect(extraCache).To(Equal(before + 1))
			Expect(enabled.Load(ctx)).To(BeEmpty())
		})
	})

	Describe("Boot", func() {
		It("should load every plugin listed in the manifest", func() {
			installBlog()
			mustActivate("blog")

			fresh := loader.NewStaticRegistryWith(map[string]loader.Factory{
				blogEntryPoint: func() any { return newProbe() },
			})
			Expect(newManager(fresh).Boot(ctx)).To(Succeed())
			Expect(fresh.IsRegistered(blogEntryPoint)).To(BeTrue())
		})

		It("should skip plugins that were deleted behind its back", func() {
			installBlog()
			mustActivate("blog")
			Expect(os.RemoveAll(filepath.Join(root, "blog"))).To(Succeed())

			fresh := loader.NewStaticRegistryWith(nil)
			Expect(newManager(fresh).Boot(ctx)).To(Succeed())
		})

		It("should report plugins whose code is missing", func() {
			installBlog()
			mustActivate("blog")

			fresh := loader.NewStaticRegistryWith(nil)
			Expect(newManager(fresh).Boot(ctx)).To(MatchError(loader.ErrCodeLoad))
		})

		It("should do nothing without a manifest", func() {
			Expect(mgr.Boot(ctx)).To(Succeed())
		})
	})

	Describe("List and Updates", func() {
		BeforeEach(func() {
			installBlog()
			installShop()
			mustActivate("blog")
		})

		It("should describe installed plugins", func() {
			statuses, err := mgr.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(statuses).To(Equal([]Status{
				{ID: "blog", Name: "blog", Version: "1.0.0", Enabled: true, Loaded: true, Valid: true},
				{ID: "shop", Name: "Shop", Version: "1.0.0", Enabled: false, Loaded: false, Valid: true},
			}))
		})

		It("should list plugins with a newer version available", func() {
			updates, err := mgr.Updates(map[string]string{"blog": "1.2.0", "shop": "1.0.0", "forum": "3.0.0"})
			Expect(err).NotTo(HaveOccurred())
			Expect(updates).To(Equal(map[string]string{"blog": "1.2.0"}))
		})
	})
})
