package constants

const (
	// ActivatedPluginsSetting holds the JSON-encoded enabled set.
	ActivatedPluginsSetting = "activated_plugins"
	// PluginCacheEnabledSetting turns the enabled-set cache off when set to "0" or "false".
	PluginCacheEnabledSetting = "plugin_cache_enabled"
	// InstalledPluginsCacheKey is the durable cache entry for the enabled set.
	InstalledPluginsCacheKey = "core_installed_plugins"
)

const (
	ManifestFile     = "plugin.json"
	SourceDir        = "src"
	MigrationsDir    = "database/migrations"
	PublicDir        = "public"
	LangDir          = "resources/lang"
	ScreenshotFile   = "screenshot.png"
	PublishedRootDir = "vendor/core"
)
