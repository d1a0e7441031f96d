// Package docs registers the OpenAPI document served under /swagger.
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
        "/api/predict": {
            "post": {
                "description": "Scores a loan application. The profile may be sent at the top level or under \"data\". Authenticated callers have their stored profile merged underneath the request fields.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["predictions"],
                "summary": "Predict a loan decision",
                "parameters": [
                    {
                        "description": "Applicant profile",
                        "name": "profile",
                        "in": "body",
                        "required": true,
                        "schema": {"type": "object", "additionalProperties": true}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PredictResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/update_profile": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Updates the allow-listed profile fields, then predicts on the stored profile.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["profile"],
                "summary": "Update the caller's profile",
                "parameters": [
                    {
                        "description": "Profile fields",
                        "name": "profile",
                        "in": "body",
                        "required": true,
                        "schema": {"type": "object", "additionalProperties": true}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.UpdateProfileResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/predictions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["predictions"],
                "summary": "List the caller's prediction history",
                "parameters": [
                    {"type": "integer", "default": 20, "description": "Maximum rows (1-100)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HistoryResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/model": {
            "get": {
                "produces": ["application/json"],
                "tags": ["model"],
                "summary": "Describe the active artifact bundle",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelStatusResponse"}}
                }
            }
        },
        "/api/admin/reload": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["model"],
                "summary": "Reload artifacts from disk (admin)",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelStatusResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/admin/users": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "List registered users (admin)",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.UsersResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/signup": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Register a user, optionally with profile fields",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/account.Session"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Exchange a username and password for tokens",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/account.Session"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/refresh": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Exchange a refresh token for a new access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/account.Session"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/chat": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Send a chat message",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ChatResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Service health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}},
                    "503": {"description": "A dependency is in emergency state", "schema": {"$ref": "#/definitions/types.HealthResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.PredictResponse": {
            "type": "object",
            "properties": {
                "loan_decision": {"type": "string", "enum": ["Approved", "Rejected"]},
                "approval_probability": {"type": "number"},
                "rejection_reason": {"type": "string"},
                "shap_top3": {"type": "array", "items": {"type": "array", "items": {}}},
                "model_version": {"type": "string", "enum": ["lgb", "stub", "error"]}
            }
        },
        "types.UpdateProfileResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "prediction": {
                    "type": "object",
                    "properties": {
                        "decision": {"type": "string"},
                        "probability": {"type": "number"},
                        "reason": {"type": "string"},
                        "shap_top3": {"type": "array", "items": {"type": "array", "items": {}}},
                        "model_version": {"type": "string"}
                    }
                }
            }
        },
        "types.HistoryResponse": {
            "type": "object",
            "properties": {
                "count": {"type": "integer"},
                "predictions": {"type": "array", "items": {"type": "object"}}
            }
        },
        "types.SlotResponse": {
            "type": "object",
            "properties": {
                "slot": {"type": "string"},
                "path": {"type": "string"},
                "present": {"type": "boolean"},
                "format": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "types.ModelStatusResponse": {
            "type": "object",
            "properties": {
                "mode": {"type": "string"},
                "generation": {"type": "integer"},
                "loaded_at": {"type": "string"},
                "features": {"type": "array", "items": {"type": "string"}},
                "slots": {"type": "array", "items": {"$ref": "#/definitions/types.SlotResponse"}}
            }
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "timestamp": {"type": "string"},
                "version": {"type": "string"},
                "mode": {"type": "string"},
                "services": {"type": "object"}
            }
        },
        "account.Session": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "refresh_token": {"type": "string"},
                "user_id": {"type": "string"},
                "role": {"type": "string", "enum": ["user", "admin"]},
                "expires_in": {"type": "integer"}
            }
        },
        "types.ChatResponse": {
            "type": "object",
            "properties": {
                "reply": {"type": "string"}
            }
        },
        "types.UsersResponse": {
            "type": "object",
            "properties": {
                "users": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "id": {"type": "string"},
                            "username": {"type": "string"},
                            "email": {"type": "string"},
                            "role": {"type": "string"}
                        }
                    }
                }
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "category": {"type": "string"},
                "request_id": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Loan Decision API",
	Description:      "Loan approval predictions with ranked feature contributions.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
