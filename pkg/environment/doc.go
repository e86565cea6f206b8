// Package environment describes the deployment environment of the process
// (local, development, staging, production) and propagates it through
// context.Context and HTTP requests.
//
// The environment is parsed once at startup and threaded explicitly into the
// components that depend on it, such as the billing tier catalog which keeps
// separate price identifiers per environment. Local is special: it disables
// usage metering entirely.
//
// # Usage
//
//	env, err := environment.Parse(os.Getenv("APP_ENV"))
//	if err != nil {
//	    return err
//	}
//	router.Use(environment.Middleware(env))
//
// Retrieve the environment from a request context:
//
//	if environment.IsLocal(ctx) {
//	    // metering disabled
//	}
package environment
