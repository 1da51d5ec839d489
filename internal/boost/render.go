package boost

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/valueverse/boostbot/internal/helipad"
)

var errEmptySession = errors.New("session has no splits")

// ContentBuilder renders a finalized session into outbound note content and
// tags. Mention maps come from configuration: display names (lowercased) to
// npubs, and show names to the npubs of their hosts.
type ContentBuilder struct {
	NameMentions map[string]string
	ShowMentions map[string][]string
}

// Build renders the session's winning split, merging metadata from every
// split the session collected.
func (b *ContentBuilder) Build(session *Session) (string, [][]string, error) {
	if session == nil || session.Winning == nil {
		return "", nil, errEmptySession
	}
	winning := session.Winning
	meta := winning.ParseMetadata()

	displayMessage, tags := b.expandMentions(winning.Message)

	var builder strings.Builder
	if strings.TrimSpace(displayMessage) != "" {
		builder.WriteString(displayMessage)
		builder.WriteString("\n\n")
	}
	builder.WriteString(fmt.Sprintf("⚡ %d sats", winning.TotalSats()))
	if meta != nil && meta.AppName != "" {
		builder.WriteString(fmt.Sprintf("\n📱 via %s", meta.AppName))
	}

	if link := b.boostLink(winning, session.Splits); link != "" {
		builder.WriteString("\n\n")
		builder.WriteString(link)
	}

	hostMentions, hostTags := b.hostMentions(winning.Podcast)
	if len(hostMentions) > 0 {
		builder.WriteString("\n\n")
		builder.WriteString(strings.Join(hostMentions, " "))
	}
	tags = appendUniqueTags(tags, hostTags)

	tags = append(tags, metadataTags(session.Splits)...)
	tags = append(tags,
		[]string{"t", "boost"},
		[]string{"t", "value4value"},
		[]string{"t", "podcasting20"},
	)

	return builder.String(), tags, nil
}

// expandMentions replaces known display names in the message with nostr
// mention links and collects the matching p tags. A trailing "++" keeps the
// name visible (karma syntax) but still tags the person.
func (b *ContentBuilder) expandMentions(message string) (string, [][]string) {
	tags := make([][]string, 0, 4)
	if strings.TrimSpace(message) == "" {
		return message, tags
	}

	names := make([]string, 0, len(b.NameMentions))
	for name := range b.NameMentions {
		names = append(names, name)
	}
	sort.Strings(names)

	processed := message
	seen := make(map[string]struct{})
	for _, name := range names {
		npub := b.NameMentions[name]
		pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(name) + `(\+\+|\b)`)
		if err != nil {
			continue
		}
		if !pattern.MatchString(processed) {
			continue
		}

		processed = pattern.ReplaceAllStringFunc(processed, func(match string) string {
			if strings.HasSuffix(match, "++") {
				return match
			}
			return "nostr:" + npub
		})

		pubkey, err := decodeNpub(npub)
		if err != nil {
			continue
		}
		if _, ok := seen[pubkey]; ok {
			continue
		}
		seen[pubkey] = struct{}{}
		tags = append(tags, []string{"p", pubkey, "", "mention"})
	}
	return processed, tags
}

// boostLink returns the best outbound link: the lnbeats album for music
// boosts, otherwise the podcastindex show page when a feed ID is known.
func (b *ContentBuilder) boostLink(winning *helipad.PaymentEvent, splits []*helipad.PaymentEvent) string {
	if winning.IsMusic() {
		for _, split := range splits {
			meta := split.ParseMetadata()
			if meta == nil {
				continue
			}
			if meta.RemoteFeed != "" {
				return "https://lnbeats.com/album/" + meta.RemoteFeed
			}
		}
	}
	meta := winning.ParseMetadata()
	if meta != nil && meta.FeedID != "" {
		return "https://podcastindex.org/podcast/" + meta.FeedID.String()
	}
	return ""
}

func (b *ContentBuilder) hostMentions(showName string) ([]string, [][]string) {
	npubs := b.showNpubs(showName)
	if len(npubs) == 0 {
		return nil, nil
	}
	mentions := make([]string, 0, len(npubs))
	tags := make([][]string, 0, len(npubs))
	seen := make(map[string]struct{})
	for _, npub := range npubs {
		mentions = append(mentions, "nostr:"+npub)
		pubkey, err := decodeNpub(npub)
		if err != nil {
			continue
		}
		if _, ok := seen[pubkey]; ok {
			continue
		}
		seen[pubkey] = struct{}{}
		tags = append(tags, []string{"p", pubkey, "", "mention"})
	}
	return mentions, tags
}

func (b *ContentBuilder) showNpubs(showName string) []string {
	if npubs, ok := b.ShowMentions[showName]; ok {
		return npubs
	}
	normalized := strings.ToLower(strings.TrimSpace(showName))
	for mapped, npubs := range b.ShowMentions {
		if strings.ToLower(strings.TrimSpace(mapped)) == normalized {
			return npubs
		}
	}
	return nil
}

// metadataTags merges podcast guid tags from every split, deduplicated, so
// the note carries the feed, episode, and publisher identifiers regardless
// of which split supplied them.
func metadataTags(splits []*helipad.PaymentEvent) [][]string {
	tags := make([][]string, 0, 8)
	seen := make(map[string]struct{})
	imageAdded := false

	addGUID := func(kind, guid, url string) {
		if guid == "" {
			return
		}
		dedupeKey := kind + ":" + guid
		if _, ok := seen[dedupeKey]; ok {
			return
		}
		seen[dedupeKey] = struct{}{}
		tags = append(tags,
			[]string{"k", kind},
			[]string{"i", kind + ":" + guid, url},
		)
	}

	for _, split := range splits {
		meta := split.ParseMetadata()
		if meta == nil {
			continue
		}
		addGUID("podcast:item:guid", meta.ItemGUID(), meta.LinkURL())
		addGUID("podcast:guid", meta.FeedGUIDOrID(), meta.LinkURL())
		addGUID("podcast:publisher:guid", meta.PublisherGUID, meta.URL)
		addGUID("podcast:guid", meta.RemoteFeed, meta.URL)
		addGUID("podcast:item:guid", meta.RemoteItem, meta.URL)
		if meta.Image != "" && !imageAdded {
			tags = append(tags, []string{"image", meta.Image})
			imageAdded = true
		}
	}
	return tags
}

func appendUniqueTags(tags, extra [][]string) [][]string {
	existing := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "p" {
			existing[tag[1]] = struct{}{}
		}
	}
	for _, tag := range extra {
		if len(tag) >= 2 && tag[0] == "p" {
			if _, ok := existing[tag[1]]; ok {
				continue
			}
			existing[tag[1]] = struct{}{}
		}
		tags = append(tags, tag)
	}
	return tags
}

func decodeNpub(npub string) (string, error) {
	prefix, value, err := nip19.Decode(npub)
	if err != nil {
		return "", err
	}
	if prefix != "npub" {
		return "", fmt.Errorf("unexpected bech32 prefix %q", prefix)
	}
	pubkey, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("unexpected npub payload type %T", value)
	}
	return pubkey, nil
}
