// Package api provides a read-only debug HTTP API over a running
// indexer's durable storage and decoder registry.
// @title ChainIndexor Debug API
// @version 1.0
// @description Read-only introspection over checkpoints, entities, and decoder stats
// @contact.name API Support
// @contact.url https://github.com/chainindexor/core
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /
// @schemes http https
package api

// Generate the swagger spec consumed by the /swagger/ route with:
//
//	swag init -g docs.go -d ./pkg/api -o ./pkg/api/docs
