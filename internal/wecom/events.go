package wecom

import "encoding/xml"

// MessageType is the inbound message payload kind.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVoice    MessageType = "voice"
	MessageVideo    MessageType = "video"
	MessageLocation MessageType = "location"
	MessageLink     MessageType = "link"
	MessageEvent    MessageType = "event"
)

// EncryptedEnvelope is the outer XML body of a webhook POST.
type EncryptedEnvelope struct {
	XMLName    xml.Name `xml:"xml"`
	ToUserName string   `xml:"ToUserName"`
	AgentID    string   `xml:"AgentID"`
	Encrypt    string   `xml:"Encrypt"`
}

// IncomingMessage is the decrypted inner XML message.
type IncomingMessage struct {
	XMLName      xml.Name    `xml:"xml"`
	ToUserName   string      `xml:"ToUserName"`
	FromUserName string      `xml:"FromUserName"`
	CreateTime   int64       `xml:"CreateTime"`
	MsgType      MessageType `xml:"MsgType"`
	Content      string      `xml:"Content"`
	MsgID        string      `xml:"MsgId"`
	PicURL       string      `xml:"PicUrl"`
	MediaID      string      `xml:"MediaId"`
	Event        string      `xml:"Event"`
	EventKey     string      `xml:"EventKey"`
	AgentID      int64       `xml:"AgentID"`
}
