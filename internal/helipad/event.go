package helipad

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Action is the Helipad webhook action code.
type Action int

const (
	ActionError     Action = 0
	ActionStream    Action = 1
	ActionBoost     Action = 2
	ActionUnknown   Action = 3
	ActionAutoBoost Action = 4
)

// Name returns a human-readable label for the action code.
func (a Action) Name() string {
	switch a {
	case ActionError:
		return "Error"
	case ActionStream:
		return "Stream"
	case ActionBoost:
		return "Boost"
	case ActionAutoBoost:
		return "Auto Boost"
	default:
		return "Unknown"
	}
}

// PaymentInfo carries the Lightning-level details Helipad attaches to the
// split that actually moved over the network.
type PaymentInfo struct {
	PaymentHash string `json:"payment_hash"`
	Pubkey      string `json:"pubkey"`
	CustomKey   int64  `json:"custom_key"`
	CustomValue string `json:"custom_value"`
	FeeMsat     int64  `json:"fee_msat"`
	ReplyToIdx  *int64 `json:"reply_to_idx"`
}

// PaymentEvent is one webhook delivery: a single split of one logical
// payment, normalized from Helipad's wire shape. Immutable after decode.
type PaymentEvent struct {
	Index          int64        `json:"index"`
	Time           int64        `json:"time"`
	ValueMsat      int64        `json:"value_msat"`
	ValueMsatTotal int64        `json:"value_msat_total"`
	Action         Action       `json:"action"`
	Sender         string       `json:"sender"`
	App            string       `json:"app"`
	Message        string       `json:"message"`
	Podcast        string       `json:"podcast"`
	Episode        string       `json:"episode"`
	TLV            string       `json:"tlv"`
	RemotePodcast  string       `json:"remote_podcast,omitempty"`
	RemoteEpisode  string       `json:"remote_episode,omitempty"`
	ReplySent      bool         `json:"reply_sent,omitempty"`
	PaymentInfo    *PaymentInfo `json:"payment_info"`
}

// Sats returns the split's face amount in whole satoshis.
func (e *PaymentEvent) Sats() int64 {
	return e.ValueMsat / 1000
}

// TotalSats returns the logical payment total in whole satoshis.
func (e *PaymentEvent) TotalSats() int64 {
	return e.ValueMsatTotal / 1000
}

// HasFee reports whether this split paid routing fees, the marker for the
// outbound leg of the payment.
func (e *PaymentEvent) HasFee() bool {
	return e.PaymentInfo != nil && e.PaymentInfo.FeeMsat > 0
}

// IsMusic reports whether the split references a remote track, which is how
// value-time-splits for music shows arrive.
func (e *PaymentEvent) IsMusic() bool {
	return strings.TrimSpace(e.RemotePodcast) != "" && strings.TrimSpace(e.RemoteEpisode) != ""
}

// IsPlatformFee detects StableKraft metaboost platform-fee splits, which
// duplicate the real boost and must never be posted.
func (e *PaymentEvent) IsPlatformFee() bool {
	if strings.Contains(e.TLV, `"metaboost-`) {
		return true
	}
	message := strings.ToLower(e.Message)
	if strings.Contains(message, "metaboost") {
		return true
	}
	return strings.Contains(message, "platform fee") && strings.EqualFold(e.App, "stablekraft")
}

// flexibleID tolerates the feedID field arriving as a JSON number or string,
// which varies by sender app.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "null" {
		trimmed = ""
	}
	*f = flexibleID(trimmed)
	return nil
}

func (f flexibleID) String() string {
	return string(f)
}

// Metadata is the subset of the TLV blob the bot consumes. Field names vary
// across sender apps, so several aliases map onto each logical value.
type Metadata struct {
	AppName       string     `json:"app_name"`
	Name          string     `json:"name"`
	FeedID        flexibleID `json:"feedID"`
	GUID          string     `json:"guid"`
	PodcastGUID   string     `json:"podcast_guid"`
	FeedGUID      string     `json:"feed_guid"`
	EpisodeGUID   string     `json:"episode_guid"`
	ItemID        flexibleID `json:"itemID"`
	PublisherGUID string     `json:"publisher_guid"`
	RemoteFeed    string     `json:"remote_feed_guid"`
	RemoteItem    string     `json:"remote_item_guid"`
	URL           string     `json:"url"`
	BoostLink     string     `json:"boost_link"`
	Image         string     `json:"image"`
}

// ParseMetadata decodes the event's TLV blob. A missing or malformed blob
// yields nil without an error: metadata is auxiliary, never load-bearing.
func (e *PaymentEvent) ParseMetadata() *Metadata {
	if strings.TrimSpace(e.TLV) == "" {
		return nil
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(e.TLV), &meta); err != nil {
		return nil
	}
	return &meta
}

// ItemGUID returns the episode-level guid under whichever alias the sender
// app used.
func (m *Metadata) ItemGUID() string {
	switch {
	case m.ItemID != "":
		return m.ItemID.String()
	case m.EpisodeGUID != "":
		return m.EpisodeGUID
	default:
		return m.GUID
	}
}

// FeedGUIDOrID returns the feed-level identifier under whichever alias the
// sender app used.
func (m *Metadata) FeedGUIDOrID() string {
	switch {
	case m.FeedID != "":
		return m.FeedID.String()
	case m.PodcastGUID != "":
		return m.PodcastGUID
	default:
		return m.FeedGUID
	}
}

// LinkURL returns the best available link for guid tags.
func (m *Metadata) LinkURL() string {
	if m.URL != "" {
		return m.URL
	}
	return m.BoostLink
}

var platformSuffix = regexp.MustCompile(`(?i)\s+(via|on)\s+\S+\s*$`)

// Artist strips platform attributions like "via Wavlake" from the TLV name
// field, leaving the artist as labeled at the source.
func (m *Metadata) Artist() string {
	name := strings.TrimSpace(m.Name)
	for platformSuffix.MatchString(name) {
		name = strings.TrimSpace(platformSuffix.ReplaceAllString(name, ""))
	}
	return name
}

// HasPlatformSuffix reports whether the TLV name carries a "via <platform>"
// attribution, the signal that the name field labels the artist split.
func (m *Metadata) HasPlatformSuffix() bool {
	return platformSuffix.MatchString(m.Name)
}
