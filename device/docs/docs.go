// Package docs регистрирует Swagger-описание статусного API устройства.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/pipeline": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Pipeline"],
                "summary": "Состояние конвейера",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.PipelineResponse"}}
                }
            }
        },
        "/api/sessions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Последние сессии",
                "parameters": [
                    {"type": "integer", "default": 50, "description": "Количество", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.SessionsResponse"}}
                }
            }
        },
        "/api/sessions/pending": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Сессии, ожидающие загрузки",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.SessionsResponse"}}
                }
            }
        },
        "/api/sessions/pending/{id}": {
            "delete": {
                "tags": ["Sessions"],
                "summary": "Снять сессию из ожидающих",
                "parameters": [
                    {"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/sessions/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Итог сессии",
                "parameters": [
                    {"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/orchestrator.Report"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "api.PipelineResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "session": {"$ref": "#/definitions/orchestrator.Session"},
                "destination_received": {"type": "boolean"},
                "progress": {"$ref": "#/definitions/orchestrator.Progress"},
                "last_report": {"$ref": "#/definitions/orchestrator.Report"},
                "stats": {"type": "object"}
            }
        },
        "api.SessionsResponse": {
            "type": "object",
            "properties": {
                "sessions": {"type": "array", "items": {"$ref": "#/definitions/orchestrator.Report"}},
                "count": {"type": "integer"}
            }
        },
        "orchestrator.Progress": {
            "type": "object",
            "properties": {
                "elapsed_sec": {"type": "number"},
                "duration_sec": {"type": "number"},
                "fraction": {"type": "number"},
                "num_ecg": {"type": "integer"},
                "num_imu": {"type": "integer"},
                "persisting": {"type": "boolean"}
            }
        },
        "orchestrator.Session": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "number": {"type": "integer"},
                "path": {"type": "string"},
                "ecg_rate_hz": {"type": "integer"},
                "imu_rate_hz": {"type": "integer"},
                "started_at": {"type": "string"}
            }
        },
        "orchestrator.Report": {
            "type": "object",
            "properties": {
                "session": {"$ref": "#/definitions/orchestrator.Session"},
                "state": {"type": "string"},
                "reason": {"type": "string"},
                "error": {"type": "string"},
                "persisting": {"type": "boolean"},
                "num_ecg": {"type": "integer"},
                "num_imu": {"type": "integer"},
                "file_size": {"type": "integer"},
                "expected_size": {"type": "integer"},
                "partial_writes": {"type": "integer"},
                "read_errors": {"type": "integer"},
                "handshake_attempts": {"type": "integer"},
                "transfer_attempts": {"type": "integer"},
                "upload_key": {"type": "string"},
                "transfer_status": {"type": "integer"},
                "checksum": {"type": "string"},
                "finished_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Holter Device Status API",
	Description:      "Состояние конвейера захвата и журнал сессий холтеровского монитора.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
