package constants

// Entry points of the plugins linked into the plugman binary.
const (
	BlogEntryPoint = `Vendor\Blog\BlogPlugin`
	ShopEntryPoint = `Vendor\Shop\ShopPlugin`
)
