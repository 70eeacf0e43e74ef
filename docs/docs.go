// Package docs registers the Swagger document served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "description": "REST API for queueing sessions API range scans and reading their matches.",
    "title": "sessionscan API",
    "version": "1.0"
  },
  "basePath": "/api/v1",
  "schemes": ["http"],
  "securityDefinitions": {
    "ApiKeyAuth": {
      "type": "apiKey",
      "in": "header",
      "name": "Authorization",
      "description": "Bearer <API_KEY>"
    }
  },
  "paths": {
    "/scans": {
      "post": {
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "summary": "Create a new range scan",
        "operationId": "createScan",
        "tags": ["Scans"],
        "security": [{"ApiKeyAuth": []}],
        "parameters": [
          {
            "description": "Ranges to scan",
            "name": "scanRequest",
            "in": "body",
            "required": true,
            "schema": {"$ref": "#/definitions/CreateScanRequest"}
          }
        ],
        "responses": {
          "202": {"description": "Scan accepted", "schema": {"$ref": "#/definitions/ScanAcceptedResponse"}},
          "400": {"description": "Malformed JSON, invalid range or too many hosts", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "401": {"description": "Missing or incorrect API key", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "429": {"description": "Rate limit exceeded", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "500": {"description": "Failed to persist or queue the task", "schema": {"$ref": "#/definitions/ErrorResponse"}}
        }
      }
    },
    "/scans/{id}": {
      "get": {
        "produces": ["application/json"],
        "summary": "Get scan status and matches",
        "operationId": "getScan",
        "tags": ["Scans"],
        "security": [{"ApiKeyAuth": []}],
        "parameters": [
          {"type": "string", "format": "uuid", "description": "Scan Task ID (UUID v4)", "name": "id", "in": "path", "required": true}
        ],
        "responses": {
          "200": {"description": "Current task snapshot", "schema": {"$ref": "#/definitions/ScanTask"}},
          "400": {"description": "Malformed task identifier", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "401": {"description": "Missing or incorrect API key", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "404": {"description": "Task not found", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "429": {"description": "Rate limit exceeded", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "500": {"description": "Failed to load the task", "schema": {"$ref": "#/definitions/ErrorResponse"}}
        }
      }
    }
  },
  "definitions": {
    "CreateScanRequest": {
      "type": "object",
      "required": ["ranges"],
      "properties": {
        "ranges": {"type": "array", "items": {"type": "string"}, "example": ["192.0.2.0/24", "198.51.100.7"]},
        "workers": {"type": "integer", "minimum": 1, "maximum": 2000, "example": 200}
      }
    },
    "ScanAcceptedResponse": {
      "type": "object",
      "properties": {
        "id": {"type": "string", "format": "uuid"},
        "status": {"type": "string", "example": "pending"},
        "hosts": {"type": "string", "example": "254"}
      }
    },
    "ErrorResponse": {
      "type": "object",
      "properties": {
        "error": {"type": "string", "example": "task not found"}
      }
    },
    "Evidence": {
      "type": "object",
      "properties": {
        "session_count": {"type": "integer"},
        "sessions": {"type": "array", "items": {"type": "string"}}
      }
    },
    "MatchRecord": {
      "type": "object",
      "properties": {
        "address": {"type": "string", "example": "192.0.2.10"},
        "port": {"type": "integer", "example": 3000},
        "evidence": {"$ref": "#/definitions/Evidence"},
        "found_at": {"type": "string", "format": "date-time"}
      }
    },
    "Summary": {
      "type": "object",
      "properties": {
        "ranges": {"type": "array", "items": {"type": "string"}},
        "invalid_ranges": {"type": "array", "items": {"type": "string"}},
        "enqueued": {"type": "integer"},
        "processed": {"type": "integer"},
        "matched": {"type": "integer"},
        "outcomes": {"type": "object", "additionalProperties": {"type": "integer"}},
        "sink_errors": {"type": "integer"},
        "remaining": {"type": "integer"},
        "duration_ns": {"type": "integer"}
      }
    },
    "ScanTask": {
      "type": "object",
      "properties": {
        "id": {"type": "string", "format": "uuid"},
        "status": {"type": "string", "enum": ["pending", "running", "completed", "failed"]},
        "ranges": {"type": "array", "items": {"type": "string"}},
        "workers": {"type": "integer"},
        "matches": {"type": "array", "items": {"$ref": "#/definitions/MatchRecord"}},
        "summary": {"$ref": "#/definitions/Summary"},
        "created_at": {"type": "string", "format": "date-time"},
        "started_at": {"type": "string", "format": "date-time"},
        "completed_at": {"type": "string", "format": "date-time"},
        "error": {"type": "string"}
      }
    }
  }
}
`

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

type swaggerDoc struct{}

func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}
