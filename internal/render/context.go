package render

import (
	"github.com/embermail/embermail/internal/domain"
)

// SubscriberContext builds the render context for one subscriber. The
// template sees email, name (falling back to the email local-part), and the
// custom-field map both nested under custom_fields and flattened at the top
// level for convenient dotted access.
func SubscriberContext(s *domain.Subscriber) map[string]interface{} {
	ctx := map[string]interface{}{
		"email":         s.Email,
		"name":          s.DisplayName(),
		"custom_fields": s.CustomFields,
	}
	for k, v := range s.CustomFields {
		if _, reserved := ctx[k]; !reserved {
			ctx[k] = v
		}
	}
	return ctx
}
