// Package docs 注册 /swagger 使用的 OpenAPI 文档
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"},
        "WebhookSecret": {"type": "apiKey", "name": "x-webhook-secret", "in": "header"}
    },
    "paths": {
        "/v1/auth/login": {
            "post": {
                "tags": ["auth"], "summary": "登录并签发会话",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {"200": {"description": "会话"}, "401": {"description": "凭证错误"}}
            }
        },
        "/v1/auth/refresh": {
            "post": {"tags": ["auth"], "summary": "刷新访问令牌", "responses": {"200": {"description": "会话"}, "401": {"description": "令牌无效"}}}
        },
        "/v1/auth/logout": {
            "post": {"tags": ["auth"], "summary": "清除会话 Cookie", "responses": {"204": {"description": "已退出"}}}
        },
        "/v1/auth/invite/accept": {
            "post": {"tags": ["auth"], "summary": "接受邀请并设置密码", "responses": {"200": {"description": "会话"}, "404": {"description": "邀请无效或已过期"}}}
        },
        "/v1/auth/me": {
            "get": {"tags": ["auth"], "summary": "当前租户", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "租户"}}}
        },
        "/v1/admin/users": {
            "get": {"tags": ["admin"], "summary": "列出租户", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "租户列表"}, "403": {"description": "非管理员"}}},
            "post": {"tags": ["admin"], "summary": "邀请租户", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "邀请"}, "409": {"description": "邮箱已存在"}}}
        },
        "/v1/domains": {
            "get": {"tags": ["domains"], "summary": "列出已认领域名", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "域名列表"}}},
            "post": {"tags": ["domains"], "summary": "认领域名", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "域名"}, "409": {"description": "域名已被认领"}}}
        },
        "/v1/domains/{id}": {
            "get": {"tags": ["domains"], "summary": "域名详情", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"200": {"description": "域名"}, "404": {"description": "不存在"}}},
            "delete": {"tags": ["domains"], "summary": "释放域名", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"204": {"description": "已删除"}, "409": {"description": "域名下仍有地址"}}}
        },
        "/v1/emails": {
            "get": {"tags": ["emails"], "summary": "列出地址", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "地址列表"}}},
            "post": {
                "tags": ["emails"], "summary": "开通地址并创建收件箱", "security": [{"BearerAuth": []}],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/CreateEmailRequest"}}],
                "responses": {"201": {"description": "地址与收件箱"}, "409": {"description": "地址已存在"}}
            }
        },
        "/v1/emails/{id}": {
            "get": {"tags": ["emails"], "summary": "地址详情", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"200": {"description": "地址"}}},
            "delete": {"tags": ["emails"], "summary": "删除地址及其收件箱", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"200": {"description": "删除结果"}}}
        },
        "/v1/inboxes": {
            "get": {"tags": ["inboxes"], "summary": "列出收件箱", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "收件箱列表"}}}
        },
        "/v1/inboxes/{id}": {
            "get": {"tags": ["inboxes"], "summary": "收件箱详情", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"200": {"description": "收件箱"}}},
            "patch": {"tags": ["inboxes"], "summary": "重命名收件箱", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"200": {"description": "收件箱"}}}
        },
        "/v1/messages": {
            "get": {
                "tags": ["messages"], "summary": "列出邮件", "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "query", "name": "folder", "type": "string"},
                    {"in": "query", "name": "isStarred", "type": "boolean"},
                    {"in": "query", "name": "limit", "type": "integer"}
                ],
                "responses": {"200": {"description": "邮件列表，按创建时间倒序"}}
            },
            "post": {
                "tags": ["messages"], "summary": "发送邮件", "security": [{"BearerAuth": []}],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/SendMessageRequest"}}],
                "responses": {"202": {"description": "已发送的邮件"}, "400": {"description": "参数错误"}, "403": {"description": "发件地址不属于当前租户"}}
            }
        },
        "/v1/messages/inbox/{inboxId}": {
            "get": {"tags": ["messages"], "summary": "列出收件箱内邮件", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "inboxId", "type": "string", "required": true}], "responses": {"200": {"description": "邮件列表"}}}
        },
        "/v1/messages/thread/{threadId}": {
            "get": {"tags": ["messages"], "summary": "会话内全部邮件", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "threadId", "type": "string", "required": true}], "responses": {"200": {"description": "按时间升序的邮件"}}}
        },
        "/v1/messages/{id}": {
            "get": {"tags": ["messages"], "summary": "邮件详情及附件", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"200": {"description": "邮件"}, "404": {"description": "不存在"}}},
            "patch": {"tags": ["messages"], "summary": "更新已读、星标或文件夹", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"200": {"description": "邮件"}}}
        },
        "/v1/uploads/catbox": {
            "post": {"tags": ["uploads"], "summary": "上传文件到附件存储", "security": [{"BearerAuth": []}], "consumes": ["multipart/form-data"], "responses": {"201": {"description": "上传结果"}, "413": {"description": "文件过大"}}}
        },
        "/v1/attachments": {
            "post": {"tags": ["uploads"], "summary": "上传并关联到邮件", "security": [{"BearerAuth": []}], "consumes": ["multipart/form-data"], "responses": {"201": {"description": "附件"}, "404": {"description": "邮件不存在"}}}
        },
        "/v1/webhook/inbound": {
            "post": {
                "tags": ["webhook"], "summary": "投递入站原始邮件", "security": [{"WebhookSecret": []}],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/InboundPayload"}}],
                "responses": {"204": {"description": "已处理或丢弃"}, "400": {"description": "负载无法解码"}, "403": {"description": "密钥不匹配"}}
            }
        },
        "/v1/ws": {
            "get": {"tags": ["realtime"], "summary": "订阅新邮件事件", "security": [{"BearerAuth": []}], "responses": {"101": {"description": "WebSocket 升级"}}}
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object", "required": ["email", "password"],
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}}
        },
        "CreateEmailRequest": {
            "type": "object",
            "properties": {"email": {"type": "string"}, "domain": {"type": "string"}, "inboxName": {"type": "string"}}
        },
        "SendMessageRequest": {
            "type": "object", "required": ["from", "to"],
            "properties": {
                "from": {"type": "string"},
                "to": {"type": "array", "items": {"type": "string"}},
                "cc": {"type": "array", "items": {"type": "string"}},
                "bcc": {"type": "array", "items": {"type": "string"}},
                "subject": {"type": "string"},
                "html": {"type": "string"},
                "text": {"type": "string"},
                "threadId": {"type": "string"}
            }
        },
        "InboundPayload": {
            "type": "object",
            "properties": {"rawEmail": {"type": "string", "description": "base64 编码的 RFC 5322 原文"}}
        }
    }
}`

// SwaggerInfo 文档元信息
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Freemail Backend API",
	Description:      "多租户自定义域名邮箱 API",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
