package dispatch

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/token"
)

var linkRe = regexp.MustCompile(`href=["'](https?://[^"']+)["']`)

// injectTracking appends the open pixel, routes outbound links through the
// click redirect, and sets List-Unsubscribe headers. Injection is skipped
// entirely when no tracking base URL is configured.
func (e *Engine) injectTracking(msg *domain.EmailMessage, campaignID, subscriberID uuid.UUID) {
	if e.tracking.BaseURL == "" || msg.HTML == "" {
		return
	}

	openTok, err := e.codec.Encode(token.Claims{SubscriberID: subscriberID, CampaignID: campaignID})
	if err != nil {
		e.log.Error("encode open token", "campaign_id", campaignID, "error", err)
		return
	}

	pixel := fmt.Sprintf(`<img src="%s/track/open?token=%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px" />`,
		e.tracking.BaseURL, openTok)
	if idx := strings.LastIndex(strings.ToLower(msg.HTML), "</body>"); idx >= 0 {
		msg.HTML = msg.HTML[:idx] + pixel + msg.HTML[idx:]
	} else {
		msg.HTML += pixel
	}

	msg.HTML = linkRe.ReplaceAllStringFunc(msg.HTML, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		origURL := parts[1]
		if strings.Contains(origURL, "/track/") || strings.HasPrefix(origURL, "mailto:") {
			return match
		}
		clickTok, err := e.codec.Encode(token.Claims{
			SubscriberID: subscriberID,
			CampaignID:   campaignID,
			RedirectURL:  origURL,
		})
		if err != nil {
			return match
		}
		return fmt.Sprintf(`href="%s/track/click?token=%s"`, e.tracking.BaseURL, clickTok)
	})

	unsubTok, err := e.codec.Encode(token.Claims{SubscriberID: subscriberID, CampaignID: campaignID})
	if err != nil {
		return
	}
	unsubURL := fmt.Sprintf("%s/track/unsubscribe?token=%s", e.tracking.BaseURL, unsubTok)
	msg.Headers["List-Unsubscribe"] = fmt.Sprintf("<%s>", unsubURL)
	msg.Headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
}

// pickSubject selects the campaign's A/B subject variant for a subscriber,
// or the template subject when no variants are configured. Selection hashes
// the subscriber ID so a given subscriber always sees the same variant.
// The returned index identifies the variant (-1 for the template subject)
// and must be part of any render-cache key for the subject.
func (e *Engine) pickSubject(campaign *domain.Campaign, tpl *domain.Template, sub *domain.Subscriber) (string, int) {
	if len(campaign.ABVariants) == 0 {
		return tpl.Subject, -1
	}

	total := 0
	for _, v := range campaign.ABVariants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total == 0 {
		return tpl.Subject, -1
	}

	h := fnv.New32a()
	h.Write(sub.ID[:])
	pick := int(h.Sum32() % uint32(total))
	for i, v := range campaign.ABVariants {
		if v.Weight <= 0 {
			continue
		}
		if pick < v.Weight {
			return v.Subject, i
		}
		pick -= v.Weight
	}
	return tpl.Subject, -1
}
