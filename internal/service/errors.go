package service

import (
	"errors"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/storage"
)

var (
	ErrUserNotFound    = apperr.NotFound("user not found")
	ErrDomainNotFound  = apperr.NotFound("domain not found")
	ErrDomainExists    = apperr.Conflict("domain already claimed")
	ErrDomainNotOwned  = apperr.Forbidden("domain not found or access denied")
	ErrDomainInUse     = apperr.Conflict("domain still has email addresses")
	ErrDomainUnknown   = apperr.Validation("domain not found")
	ErrDomainMismatch  = apperr.Validation("email domain does not match provided domain")
	ErrAddressExists   = apperr.Conflict("email address already exists")
	ErrAddressNotFound = apperr.NotFound("email not found")
	ErrInboxNotFound   = apperr.NotFound("inbox not found")
	ErrInboxName       = apperr.Validation("inbox name is required")
	ErrMessageNotFound = apperr.NotFound("message not found")
	ErrInvalidFolder   = apperr.Validation("invalid folder")
	ErrMissingSender   = apperr.Validation("from address is required")
	ErrNoRecipients    = apperr.Validation("at least one recipient required")
	ErrAttachmentURL   = apperr.Validation("attachment url is required")
	ErrEmptyPayload    = apperr.Validation("rawEmail is required")
	ErrInvalidPayload  = apperr.Validation("email payload could not be decoded")
)

// storeError 将存储层错误映射为业务错误；notFound 为 nil 时按下游错误处理。
func storeError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if notFound != nil && errors.Is(err, storage.ErrNotFound) {
		return notFound
	}
	return apperr.Downstream("persistence failure", err)
}
