// Package bootstrap runs the deployment startup sequence: apply schema
// migrations, collect static assets, then replace the process image with
// the serving process. It extracts the sequencing logic from main.go into
// testable, composable steps.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := app.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Run does not return on success in production mode: the final step execs
// the serving process in place, so it inherits the container's PID and
// receives termination signals directly.
package bootstrap
