// Package application provides application initialization and dependency wiring.
// It opens the storage backends selected by configuration, builds the settings
// resolver and the logger registry, and assembles the logging hub, handlers,
// router and HTTP server, keeping the main package focused on CLI parsing and
// orchestration.
package application
