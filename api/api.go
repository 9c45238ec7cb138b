// Package api embeds the OpenAPI document for the HTTP interface.
package api

import _ "embed"

//go:embed openapi.json
var OpenAPI []byte
