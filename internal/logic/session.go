package logic

import (
	"strings"

	"agrodetect-backend/internal/common"
	"agrodetect-backend/internal/db"

	"github.com/google/uuid"
)

// Session 当前登录资料和导航位置。
// 登录只是本地资料入口，不校验任何凭据。
type Session struct {
	user      *db.User
	activeTab string
	scanning  bool
}

func newSession(user *db.User) Session {
	return Session{user: user, activeTab: common.TabHome}
}

func (s *Session) login(email, name string) db.User {
	name = strings.TrimSpace(name)
	if name == "" {
		name = common.DefaultUserName
	}
	u := db.User{
		ID:         uuid.NewString(),
		Email:      strings.TrimSpace(email),
		Name:       name,
		IsLoggedIn: true,
	}
	s.user = &u
	return u
}

// logout 清掉用户并回到首页
func (s *Session) logout() {
	s.user = nil
	s.activeTab = common.TabHome
	s.scanning = false
}

func (s *Session) loggedIn() bool {
	return s.user != nil && s.user.IsLoggedIn
}

func (s *Session) currentUser() *db.User {
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// navigate 选择 scan 只打开拍照界面，不改变当前标签
func (s *Session) navigate(tab string) {
	if tab == common.TabScan {
		s.scanning = true
		return
	}
	s.activeTab = tab
}

func (s *Session) closeScanner() {
	s.scanning = false
}

func (s *Session) scanCompleted() {
	s.scanning = false
	s.activeTab = common.TabHistory
}
