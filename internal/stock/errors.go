package stock

import "errors"

var rejectionCodes = []struct {
	err  error
	code string
}{
	{ErrInsufficientStock, "INSUFFICIENT_STOCK"},
	{ErrRecipeNotDefined, "RECIPE_NOT_DEFINED"},
	{ErrItemNotFound, "ITEM_NOT_FOUND"},
	{ErrItemInactive, "ITEM_INACTIVE"},
	{ErrInvalidQuantity, "INVALID_QUANTITY"},
	{ErrInvalidDirection, "INVALID_DIRECTION"},
	{ErrDuplicateItem, "DUPLICATE_ITEM"},
	{ErrInvalidItem, "INVALID_ITEM"},
}

// RejectionCode returns the stable code of a business-rule error, or "" for other errors.
func RejectionCode(err error) string {
	for _, rc := range rejectionCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return ""
}
