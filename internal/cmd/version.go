package cmd

// version is set at build time via:
//
//	-ldflags "-X github.com/mcpherd/mcpherd/internal/cmd.version=v1.2.3"
var version = "dev"

// Version returns the build version of the application.
func Version() string {
	return version
}
