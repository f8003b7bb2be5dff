package constants

// ReservedPluginIDs can never be validated or activated, whatever their manifest says.
var ReservedPluginIDs = []string{
	"activator",
	"botble-activator",
	"botble-activator-main",
	"shaqi/botble-activator",
}
