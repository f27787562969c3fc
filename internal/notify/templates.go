package notify

import (
	"fmt"
	"strings"

	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/telegram"
)

var esc = telegram.EscapeMarkdown

var originLabels = map[domain.LeadOrigin]string{
	domain.OriginMessagingImport:  "chat import",
	domain.OriginScreenshotImport: "screenshots",
}

var statusLabels = map[domain.LeadStatus]string{
	domain.LeadStatusNew:         "new",
	domain.LeadStatusInProgress:  "in progress",
	domain.LeadStatusCompleted:   "completed",
	domain.LeadStatusRejected:    "rejected",
	domain.LeadStatusDealCreated: "deal created",
}

var fieldLabels = map[string]string{
	domain.LeadFieldClientName:  "client name",
	domain.LeadFieldClientPhone: "phone",
	domain.LeadFieldNote:        "note",
}

// StatusLabel is the human form of a lead status.
func StatusLabel(s domain.LeadStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func title(lead *domain.Lead) string {
	return "*" + esc("Lead #"+lead.PublicID) + "*"
}

func line(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", esc(label), esc(value))
}

// RenderLeadCard formats a lead as a MarkdownV2 card. group may be nil.
func RenderLeadCard(lead *domain.Lead, group *domain.AgentGroup) string {
	var b strings.Builder
	b.WriteString(title(lead))
	b.WriteString("\n")
	line(&b, "Source", originLabels[lead.Origin])
	line(&b, "Client", lead.ClientName)
	line(&b, "Phone", lead.ClientPhone)
	line(&b, "Note", lead.Note)
	if group != nil {
		line(&b, "Group", group.Name)
	}
	line(&b, "Status", StatusLabel(lead.Status))
	return strings.TrimRight(b.String(), "\n")
}

// RenderAcceptedCard is the group card after an agent took the lead.
func RenderAcceptedCard(lead *domain.Lead, group *domain.AgentGroup, agentName string) string {
	return RenderLeadCard(lead, group) + "\n\n" + esc("Accepted by "+agentName)
}

func createdSelfText(ev domain.Event) string {
	return esc("New lead taken by "+actorName(ev)) + "\n\n" + RenderLeadCard(ev.Lead, nil)
}

func createdGroupText(ev domain.Event) string {
	return esc("New lead waiting in "+groupName(ev.Group)) + "\n\n" + RenderLeadCard(ev.Lead, ev.Group)
}

func groupCardText(ev domain.Event) string {
	return esc("New lead, first to take it handles it") + "\n\n" + RenderLeadCard(ev.Lead, ev.Group)
}

func acceptedAdminText(ev domain.Event) string {
	return title(ev.Lead) + " " + esc("accepted by "+agentName(ev))
}

func acceptedAgentText(ev domain.Event) string {
	return esc("You accepted this lead") + "\n\n" + RenderLeadCard(ev.Lead, ev.Group)
}

func closedText(ev domain.Event) string {
	return title(ev.Lead) + " " + esc("marked "+StatusLabel(ev.Lead.Status)+" by "+agentName(ev))
}

func fieldChangedText(ev domain.Event) string {
	label := fieldLabels[ev.Field]
	if label == "" {
		label = ev.Field
	}
	old := ev.OldValue
	if old == "" {
		old = "empty"
	}
	return title(ev.Lead) + "\n" + esc(fmt.Sprintf("%s changed from %q to %q", label, old, ev.NewValue))
}

func contractRequestedText(ev domain.Event) string {
	return title(ev.Lead) + " " + esc("contract requested by "+agentName(ev))
}

func documentReadyText(ev domain.Event) string {
	doc := ev.Document
	if doc == "" {
		doc = "document"
	}
	return title(ev.Lead) + " " + esc(doc+" is ready")
}

func actorName(ev domain.Event) string {
	if ev.Actor != nil {
		return ev.Actor.DisplayName()
	}
	return agentName(ev)
}

func agentName(ev domain.Event) string {
	switch {
	case ev.Agent != nil && ev.Agent.Name != "":
		return ev.Agent.Name
	case ev.Actor != nil:
		return ev.Actor.DisplayName()
	}
	return "an agent"
}

func groupName(g *domain.AgentGroup) string {
	if g == nil || g.Name == "" {
		return "a group"
	}
	return g.Name
}
