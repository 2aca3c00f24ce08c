package graph

import "time"

// Message is the subset of the Graph message resource the worker reads.
// Delta responses mark deletions with an @removed annotation instead of a
// message body.
type Message struct {
	ID                string         `json:"id"`
	ConversationID    string         `json:"conversationId"`
	InternetMessageID string         `json:"internetMessageId"`
	Subject           string         `json:"subject"`
	BodyPreview       string         `json:"bodyPreview"`
	Body              *ItemBody      `json:"body"`
	From              *Recipient     `json:"from"`
	ToRecipients      []Recipient    `json:"toRecipients"`
	ReceivedAt        time.Time      `json:"receivedDateTime"`
	IsDraft           bool           `json:"isDraft"`
	IsRead            bool           `json:"isRead"`
	Importance        string         `json:"importance"`
	Categories        []string       `json:"categories"`
	HasAttachments    bool           `json:"hasAttachments"`
	Removed           *RemovedMarker `json:"@removed,omitempty"`
}

type RemovedMarker struct {
	Reason string `json:"reason"`
}

type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Format renders "Name <addr>" when a display name is set, otherwise just
// the bare address.
func (e EmailAddress) Format() string {
	if e.Name != "" {
		return e.Name + " <" + e.Address + ">"
	}
	return e.Address
}

// deltaPage is one page of a delta query. Exactly one of NextLink and
// DeltaLink is set: NextLink while paging, DeltaLink on the final page.
type deltaPage struct {
	Value     []Message `json:"value"`
	NextLink  string    `json:"@odata.nextLink"`
	DeltaLink string    `json:"@odata.deltaLink"`
}

// Attachment is a Graph fileAttachment. ContentBytes is base64 as returned
// by the API.
type Attachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int    `json:"size"`
	ContentBytes string `json:"contentBytes"`
}

type attachmentPage struct {
	Value []Attachment `json:"value"`
}

// MailFolder is a Graph mailFolder resource.
type MailFolder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type folderPage struct {
	Value []MailFolder `json:"value"`
}
