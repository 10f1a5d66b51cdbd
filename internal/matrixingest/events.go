package matrixingest

// MEvent is a single Matrix event received inside an appservice transaction.
// Missing mandatory fields decode to their zero value rather than an error;
// type dispatch filters out anything that doesn't make sense downstream.
type MEvent struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	RoomID         string         `json:"room_id"`
	Sender         string         `json:"sender"`
	StateKey       *string        `json:"state_key,omitempty"`
	Content        map[string]any `json:"content"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Redacts        string         `json:"redacts,omitempty"`
	TransactionID  string         `json:"-"`
}

// Transaction is the body of a PUT /_matrix/app/v1/transactions/{txnId} call.
type Transaction struct {
	Events []MEvent `json:"events"`
}

// RelationKind classifies an m.relates_to relation.
type RelationKind string

const (
	RelationReply    RelationKind = "reply"
	RelationEdit     RelationKind = "edit"
	RelationReaction RelationKind = "reaction"
)

// Relation is the extracted meaning of an event's content.m.relates_to block.
type Relation struct {
	Kind          RelationKind
	TargetEventID string
	Key           string // reaction emoji key; empty for reply/edit
}

// ExtractRelation inspects content.m.relates_to and classifies it per the
// appservice relation conventions: a plain in_reply_to is a reply, rel_type
// m.replace is an edit, rel_type m.annotation is a reaction. Returns nil if
// content carries no recognized relation.
func ExtractRelation(content map[string]any) *Relation {
	if content == nil {
		return nil
	}
	relatesTo, ok := content["m.relates_to"].(map[string]any)
	if !ok {
		return nil
	}

	if relType, _ := relatesTo["rel_type"].(string); relType == "m.replace" {
		eventID, _ := relatesTo["event_id"].(string)
		if eventID == "" {
			return nil
		}
		return &Relation{Kind: RelationEdit, TargetEventID: eventID}
	}

	if relType, _ := relatesTo["rel_type"].(string); relType == "m.annotation" {
		eventID, _ := relatesTo["event_id"].(string)
		key, _ := relatesTo["key"].(string)
		if eventID == "" {
			return nil
		}
		return &Relation{Kind: RelationReaction, TargetEventID: eventID, Key: key}
	}

	if inReplyTo, ok := relatesTo["m.in_reply_to"].(map[string]any); ok {
		eventID, _ := inReplyTo["event_id"].(string)
		if eventID == "" {
			return nil
		}
		return &Relation{Kind: RelationReply, TargetEventID: eventID}
	}

	return nil
}
