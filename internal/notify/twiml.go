package notify

import (
	"encoding/xml"
	"fmt"
)

// TwiML call-control document types. Only the handful of verbs the DTMF
// menu needs.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Gather  *twimlGather `xml:"Gather,omitempty"`
	Say     []twimlSay   `xml:"Say,omitempty"`
}

type twimlGather struct {
	NumDigits int        `xml:"numDigits,attr"`
	Action    string     `xml:"action,attr"`
	Method    string     `xml:"method,attr"`
	Timeout   int        `xml:"timeout,attr"`
	Say       *twimlSay  `xml:"Say,omitempty"`
	Play      *twimlPlay `xml:"Play,omitempty"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

type twimlPlay struct {
	URL string `xml:",chardata"`
}

const twimlVoice = "Polly.Joanna"

const menuScript = "CamGuard alert. A fall has been detected. " +
	"Press 1 to acknowledge. Press 2 to call the person. " +
	"Press 3 to escalate to backup. Press 4 to mark false alarm."

// VoiceMenuTwiML renders the four-option DTMF menu for an incident call.
// A non-empty audioURL replaces the spoken prompt with pre-rendered audio.
func VoiceMenuTwiML(publicBase, incidentID, audioURL string) []byte {
	gather := &twimlGather{
		NumDigits: 1,
		Action:    fmt.Sprintf("%s/twilio/dtmf/%s", publicBase, incidentID),
		Method:    "POST",
		Timeout:   10,
	}
	if audioURL != "" {
		gather.Play = &twimlPlay{URL: audioURL}
	} else {
		gather.Say = &twimlSay{Voice: twimlVoice, Text: menuScript}
	}

	doc := twimlResponse{
		Gather: gather,
		Say:    []twimlSay{{Voice: twimlVoice, Text: "We didn't receive any input. Goodbye."}},
	}
	return marshalTwiML(doc)
}

// SayTwiML renders a single spoken sentence and hangs up.
func SayTwiML(text string) []byte {
	return marshalTwiML(twimlResponse{Say: []twimlSay{{Voice: twimlVoice, Text: text}}})
}

func marshalTwiML(doc twimlResponse) []byte {
	body, err := xml.Marshal(doc)
	if err != nil {
		// Static structs; marshalling cannot realistically fail.
		return []byte("<Response></Response>")
	}
	return append([]byte(xml.Header), body...)
}
