package ebay

import "errors"

var errInvalidJSON = errors.New("invalid JSON from browse API")
