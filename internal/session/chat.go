package session

import (
	"context"
	"strings"

	"fsanano/marketplace/internal/model"
)

// chatLoop replays the thread, then appends each client line until "exit".
func (s *session) chatLoop(_ context.Context, key model.ThreadKey) error {
	history, err := s.svc.ChatHistory(key)
	if err != nil {
		s.fail("read chat", err)
		return nil
	}
	s.conn.println("=== CHAT HISTORY ===")
	s.conn.println(history...)
	s.conn.println(historyFooter)

	for {
		msg, err := s.ask("Enter your message (type 'exit' to end chat):")
		if err != nil {
			return err
		}
		if strings.EqualFold(strings.TrimSpace(msg), "exit") {
			return nil
		}
		line := model.ChatLine{SpeakerRole: s.account.Role, SpeakerUser: s.username(), Message: msg}
		if err := s.svc.PostChat(key, line); err != nil {
			s.fail("append chat", err)
			return nil
		}
		s.conn.println("Message sent.")
	}
}
