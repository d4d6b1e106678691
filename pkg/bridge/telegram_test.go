package bridge

import (
	"testing"

	"github.com/mymmrac/telego"

	"github.com/ioperator-ai/relay/pkg/session"
)

func TestStartPayload(t *testing.T) {
	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{"/start abc-123", "abc-123", true},
		{"/start   abc-123  ", "abc-123", true},
		{"/start ", "", false},
		{"/start", "", false},
		{"hello", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := startPayload(tc.text)
		if got != tc.want || ok != tc.ok {
			t.Errorf("startPayload(%q) = %q, %v; want %q, %v", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}

func TestClassify_Text(t *testing.T) {
	content, typ, meta := classify(&telego.Message{Text: "привет"})
	if content != "привет" || typ != session.TypeText || meta != nil {
		t.Errorf("classify text = %q, %s, %v", content, typ, meta)
	}
}

func TestClassify_Voice(t *testing.T) {
	content, typ, meta := classify(&telego.Message{
		Voice: &telego.Voice{FileID: "vf1", Duration: 7},
	})
	if content != voiceContent || typ != session.TypeVoice {
		t.Errorf("classify voice = %q, %s", content, typ)
	}
	if meta["voiceFileId"] != "vf1" || meta["duration"] != 7 {
		t.Errorf("voice metadata = %v", meta)
	}
}

func TestClassify_Photo(t *testing.T) {
	msg := &telego.Message{
		Photo:   []telego.PhotoSize{{FileID: "small"}, {FileID: "large"}},
		Caption: "меню",
	}
	content, typ, meta := classify(msg)
	if content != "меню" || typ != session.TypeImage {
		t.Errorf("classify photo = %q, %s", content, typ)
	}
	if meta["photoFileId"] != "large" {
		t.Errorf("photoFileId = %v, want largest rendition", meta["photoFileId"])
	}

	msg.Caption = ""
	content, _, _ = classify(msg)
	if content != imageContent {
		t.Errorf("uncaptioned photo content = %q, want placeholder", content)
	}
}
