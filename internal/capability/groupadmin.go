package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

var (
	adminListRe = regexp.MustCompile(`(?i)^(?:!|/)?(?:admins|list\s+admins|who\s+are\s+the\s+admins)\??\s*$`)
	everyoneRe  = regexp.MustCompile(`(?i)^(?:!|/)?(?:everyone|all|tagall)\s*(.*)$`)
)

// GroupAdmin implements group housekeeping commands: listing admins and
// tagging all members. Group chats only; tagging requires the sender to be
// an admin.
type GroupAdmin struct {
	deps *Deps
}

func NewGroupAdmin(deps *Deps) *GroupAdmin { return &GroupAdmin{deps: deps} }

func (h *GroupAdmin) Name() string { return "group_admin" }

func (h *GroupAdmin) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagGroupAdmin) || !mc.IsGroup {
		return decline()
	}

	trimmed := strings.TrimSpace(text)
	switch {
	case adminListRe.MatchString(trimmed):
		return h.listAdmins(ctx, mc)
	case everyoneRe.MatchString(trimmed):
		m := everyoneRe.FindStringSubmatch(trimmed)
		return h.tagEveryone(ctx, mc, strings.TrimSpace(m[1]))
	}
	return decline()
}

func (h *GroupAdmin) listAdmins(ctx context.Context, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	info, err := h.deps.Transport.GroupInfo(ctx, mc.ChatID)
	if err != nil {
		return nil, fmt.Errorf("reading group info: %w", err)
	}

	var admins []string
	for _, p := range info.Participants {
		if p.IsAdmin {
			admins = append(admins, p.ID)
		}
	}
	if len(admins) == 0 {
		return domain.TextResult("This group has no admins on record."), nil
	}
	return domain.TextResult(fmt.Sprintf("Admins of %s:\n• %s", info.Name, strings.Join(admins, "\n• "))), nil
}

func (h *GroupAdmin) tagEveryone(ctx context.Context, mc *domain.MessageContext, note string) (*domain.CapabilityResult, error) {
	info, err := h.deps.Transport.GroupInfo(ctx, mc.ChatID)
	if err != nil {
		return nil, fmt.Errorf("reading group info: %w", err)
	}
	if !info.IsAdmin(mc.SenderID) {
		return domain.TextResult("Only group admins can tag everyone."), nil
	}

	var b strings.Builder
	if note != "" {
		b.WriteString(note + "\n")
	}
	for _, p := range info.Participants {
		fmt.Fprintf(&b, "@%s ", mentionName(p.ID))
	}
	return domain.TextResult(strings.TrimSpace(b.String())), nil
}

// mentionName strips the server part of a JID-style identifier.
func mentionName(id string) string {
	if at := strings.IndexByte(id, '@'); at > 0 {
		return id[:at]
	}
	return id
}
