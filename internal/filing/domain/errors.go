package domain

import "errors"

var (
	ErrNotFound         = errors.New("not_found")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidYear      = errors.New("invalid_year")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrDuplicateFiling  = errors.New("duplicate_filing")
	ErrNotDraft         = errors.New("filing_not_draft")
	ErrNotReady         = errors.New("filing_not_ready")
	ErrNotSubmitted     = errors.New("filing_not_submitted")
	ErrValidationFailed = errors.New("validation_failed")
	ErrTaxpayerInactive = errors.New("taxpayer_inactive")
	ErrNothingToSync    = errors.New("nothing_to_sync")
)
