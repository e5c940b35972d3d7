package server

const docsHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Gateway API</title>
  <meta charset="utf-8"/>
</head>
<body>
  <h1>Gateway API</h1>
  <p>HTTP surface of the real-time gateway. The machine-readable interface
  description is at <a href="/openapi.json">/openapi.json</a>.</p>
  <p>The WebSocket endpoint is <code>/web</code>; connect with an
  <code>Authorization: Bearer</code> token and an optional
  <code>format=json|protobuf</code> query parameter.</p>
</body>
</html>
`

const openAPIDoc = `{
  "openapi": "3.0.3",
  "info": {
    "title": "Gateway API",
    "description": "Real-time request/response gateway. REST surface plus the authenticated WebSocket endpoint at /web.",
    "version": "1.0.0"
  },
  "paths": {
    "/health": {
      "get": {
        "summary": "Liveness probe",
        "responses": {
          "200": {"description": "Both stores respond"},
          "503": {"description": "A backing store is unreachable"}
        }
      }
    },
    "/metrics": {
      "get": {
        "summary": "Metrics exposition in Prometheus text format",
        "responses": {"200": {"description": "Metric families"}}
      }
    },
    "/system-info": {
      "get": {
        "summary": "Process and pool configuration snapshot",
        "security": [{"bearerAuth": []}],
        "responses": {
          "200": {"description": "System information"},
          "401": {"description": "Authentication required"},
          "403": {"description": "Admin role required"}
        }
      }
    },
    "/web": {
      "get": {
        "summary": "WebSocket upgrade for the gateway endpoint",
        "parameters": [
          {"name": "format", "in": "query", "schema": {"type": "string", "enum": ["json", "protobuf"], "default": "json"}}
        ],
        "security": [{"bearerAuth": []}],
        "responses": {
          "101": {"description": "Connection upgraded"}
        }
      }
    }
  },
  "components": {
    "securitySchemes": {
      "bearerAuth": {"type": "http", "scheme": "bearer", "bearerFormat": "JWT"}
    }
  }
}
`
