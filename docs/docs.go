// Package docs registers the inferd OpenAPI document with swag. It is
// imported by the swagger-tagged build of the HTTP layer; regenerate the
// template with `swag init -g cmd/inferd/docs.go` after changing handler
// annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["ops"],
                "summary": "Liveness",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}}}
            }
        },
        "/readyz": {
            "get": {
                "produces": ["text/plain"],
                "tags": ["ops"],
                "summary": "Readiness: at least one backend has a servable model",
                "responses": {"200": {"description": "ready"}, "503": {"description": "loading"}}
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["ops"],
                "summary": "Backends, loaded instances and counters",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        },
        "/reload": {
            "post": {
                "produces": ["application/json"],
                "tags": ["ops"],
                "summary": "Refresh every backend's model list",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ReloadResponse"}}}
            }
        },
        "/unload": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["ops"],
                "summary": "Unload a model instance",
                "parameters": [{"description": "Model to unload", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.UnloadRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List models (OpenAI schema)",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelList"}}}
            }
        },
        "/api/tags": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List models (Ollama schema)",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.TagsResponse"}}}
            }
        },
        "/v1/chat/completions": {
            "post": {
                "description": "Streams server-sent events when stream is true; the stream ends with data: [DONE].",
                "consumes": ["application/json"],
                "produces": ["application/json", "text/event-stream"],
                "tags": ["chat"],
                "summary": "OpenAI-compatible chat completion",
                "parameters": [{"description": "Chat request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.ChatCompletionRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ChatCompletion"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/chat": {
            "post": {
                "description": "Streams NDJSON unless stream is false.",
                "consumes": ["application/json"],
                "produces": ["application/json", "application/x-ndjson"],
                "tags": ["chat"],
                "summary": "Ollama-compatible chat",
                "parameters": [{"description": "Chat request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.OllamaChatRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.OllamaChatResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorBody": {
            "type": "object",
            "properties": {
                "message": {"type": "string", "example": "model 'ghost-model' not found"},
                "type": {"type": "string", "example": "invalid_request_error"},
                "code": {"type": "string", "example": "model_not_found"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"$ref": "#/definitions/types.ErrorBody"}}
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {"status": {"type": "string", "example": "healthy"}, "timestamp": {"type": "string"}}
        },
        "types.StatusResponse": {"type": "object"},
        "types.ReloadResponse": {
            "type": "object",
            "properties": {"status": {"type": "string", "example": "reloaded"}, "models": {"type": "integer", "example": 3}, "error": {"type": "string"}}
        },
        "types.UnloadRequest": {
            "type": "object",
            "properties": {"backend": {"type": "string", "example": "local"}, "model": {"type": "string", "example": "llama-3.2-3b-instruct-4bit"}}
        },
        "types.ModelList": {"type": "object"},
        "types.TagsResponse": {"type": "object"},
        "types.ChatCompletionRequest": {"type": "object"},
        "types.ChatCompletion": {"type": "object"},
        "types.OllamaChatRequest": {"type": "object"},
        "types.OllamaChatResponse": {"type": "object"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "inferd API",
	Description:      "Local inference-serving façade with OpenAI- and Ollama-compatible chat endpoints.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
