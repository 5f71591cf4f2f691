package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/pkg/i18n"
	"github.com/akinalp/meshchat/services"
)

// errQuit, /quit komutunun REPL'i sonlandırma sinyali.
var errQuit = errors.New("quit")

// shortIDLength, mesaj id'lerinin ekranda gösterilen ön eki.
const shortIDLength = 8

// command, tek bir CLI satırının çözümlenmiş hali.
type command struct {
	Name string   // "/" olmadan ("msg", "join", ...)
	Args []string // boşlukla ayrılmış argümanlar
	raw  string   // komut adından sonraki ham metin
}

// Tail, ilk n argüman atlandıktan sonra kalan ham metin.
// "/reply abc merhaba  dünya" için Tail(1) → "merhaba  dünya".
func (c command) Tail(n int) string {
	s := c.raw
	for range n {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		idx := strings.IndexFunc(s, unicode.IsSpace)
		if idx < 0 {
			return ""
		}
		s = s[idx:]
	}
	return strings.TrimSpace(s)
}

// parseLine, satırı komuta çevirir. Boş satır için false.
//
//	/join random      → {join [random]}
//	merhaba           → {msg [merhaba]}
//	//etc/hosts       → {msg [/etc/hosts]}
func parseLine(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, false
	}
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		text := line
		if strings.HasPrefix(line, "//") {
			text = line[1:]
		}
		return command{Name: "msg", Args: strings.Fields(text), raw: text}, true
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	return command{
		Name: strings.ToLower(name),
		Args: strings.Fields(rest),
		raw:  rest,
	}, true
}

// ─── App ───

type appOptions struct {
	RelayURL string
	// SyncWait, boş bir workspace'te varsayılan kanallar oluşturulmadan önce
	// peer'lardan document gelmesi için beklenen süre.
	SyncWait   time.Duration
	HTTPClient *http.Client
}

// app, komutları aktif workspace session'ı üzerinde çalıştırır.
type app struct {
	manager   *services.WorkspaceManager
	out       *console
	localizer *i18n.Localizer
	opts      appOptions
}

func newApp(manager *services.WorkspaceManager, out *console, localizer *i18n.Localizer, opts appOptions) *app {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &app{manager: manager, out: out, localizer: localizer, opts: opts}
}

type handlerFunc func(ctx context.Context, s *services.Session, cmd command) error

// handlers, komut adı → işleyici. Session gerektirmeyenler exec'te ayrıca ele alınır.
func (a *app) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"nick":     a.cmdNick,
		"profile":  a.cmdProfile,
		"channels": a.cmdChannels,
		"create":   a.cmdCreate,
		"join":     a.cmdJoin,
		"leave":    a.cmdLeave,
		"topic":    a.cmdTopic,
		"lock":     a.cmdLock,
		"clear":    a.cmdClear,
		"drop":     a.cmdDrop,
		"msg":      a.cmdMsg,
		"history":  a.cmdHistory,
		"reply":    a.cmdReply,
		"thread":   a.cmdThread,
		"edit":     a.cmdEdit,
		"delete":   a.cmdDelete,
		"react":    a.cmdReact,
		"unreact":  a.cmdUnreact,
		"who":      a.cmdWho,
		"status":   a.cmdStatus,
		"init":     a.cmdInit,
	}
}

func (a *app) exec(ctx context.Context, cmd command) error {
	switch cmd.Name {
	case "quit", "exit":
		return errQuit
	case "help":
		a.out.Printf("%s", helpText)
		return nil
	case "workspace":
		if len(cmd.Args) != 1 {
			return usage("/workspace <id>")
		}
		return a.bind(ctx, cmd.Args[0])
	case "relay-stats":
		return a.cmdRelayStats(ctx)
	case "toasts":
		for _, t := range a.manager.Feed().List() {
			a.out.Printf("%s %s %s\n", shortID(t.ID), severityMark(t.Severity), t.Message)
		}
		return nil
	case "dismiss":
		return a.cmdDismiss(cmd)
	}

	handler, ok := a.handlers()[cmd.Name]
	if !ok {
		return errors.New(a.localizer.TWithParams("cli.unknownCommand", map[string]string{"command": "/" + cmd.Name}))
	}
	s := a.manager.Session()
	if s == nil {
		return errors.New("not connected to a workspace")
	}
	return handler(ctx, s, cmd)
}

// bind, workspace'e bağlanır; document boş kalırsa varsayılan kanalları
// oluşturur.
func (a *app) bind(ctx context.Context, workspace string) error {
	s, err := a.manager.BindWorkspace(ctx, workspace)
	if err != nil {
		return err
	}
	a.out.Printf("%s\n", a.localizer.TWithParams("cli.connected", map[string]string{
		"workspace": workspace,
		"peer":      s.Doc.Replica(),
	}))

	if !s.Chat.IsInitialized() && s.Transport != nil && a.opts.SyncWait > 0 {
		deadline := time.Now().Add(a.opts.SyncWait)
		for !s.Chat.IsInitialized() && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(25 * time.Millisecond):
			}
		}
	}
	if s.Chat.InitializeDefaults() {
		a.out.Printf("created default channels\n")
	}
	if ch, ok := s.Chat.CurrentChannel(); ok {
		a.out.Printf("current channel: #%s\n", ch.Name)
	}
	return nil
}

// ─── Users ───

func (a *app) cmdNick(_ context.Context, s *services.Session, cmd command) error {
	if len(cmd.Args) == 0 {
		return usage("/nick <username> [full name]")
	}
	id, created := s.Chat.GetOrCreateUser(cmd.Args[0])
	if id == "" {
		return fmt.Errorf("invalid username %q", cmd.Args[0])
	}
	if fullName := cmd.Tail(1); fullName != "" {
		s.Chat.UpdateUserProfile(id, models.UserProfile{FullName: &fullName})
	}
	if !s.SetLocalUser(id) {
		return errors.New(a.localizer.T("cli.notFound"))
	}
	if created {
		a.out.Printf("created user %s\n", cmd.Args[0])
	}
	a.out.Printf("you are %s\n", cmd.Args[0])
	return nil
}

func (a *app) cmdProfile(_ context.Context, s *services.Session, cmd command) error {
	user, err := a.localUser(s)
	if err != nil {
		return err
	}
	if len(cmd.Args) < 2 {
		return usage("/profile fullname|avatar <value>")
	}
	value := cmd.Tail(1)
	var profile models.UserProfile
	switch cmd.Args[0] {
	case "fullname":
		profile.FullName = &value
	case "avatar":
		profile.Avatar = &value
	default:
		return usage("/profile fullname|avatar <value>")
	}
	if !s.Chat.UpdateUserProfile(user.ID(), profile) {
		return errors.New(a.localizer.T("cli.notFound"))
	}
	return nil
}

func (a *app) cmdWho(_ context.Context, s *services.Session, _ command) error {
	online := s.Tracker.Online()
	a.out.Printf("%d online\n", len(online))
	for _, id := range online {
		name := id
		if u, ok := s.Chat.User(id); ok {
			name = u.DisplayName(id)
		} else if p, ok := s.Tracker.PresenceUser(id); ok {
			name = p.DisplayName(id)
		}
		marker := " "
		if id == s.Tracker.LocalUserID() {
			marker = ">"
		}
		a.out.Printf("%s %s\n", marker, name)
	}
	return nil
}

func (a *app) cmdStatus(_ context.Context, s *services.Session, _ command) error {
	transportStatus := "offline"
	if s.Transport != nil {
		transportStatus = string(s.Transport.Status())
	}
	a.out.Printf("workspace %s, replica %s, transport %s, presence %s\n",
		s.WorkspaceID, s.Doc.Replica(), transportStatus, s.Tracker.Status())
	return nil
}

// ─── Channels ───

func (a *app) cmdInit(_ context.Context, s *services.Session, _ command) error {
	if !s.Chat.InitializeDefaults() {
		a.out.Printf("workspace already has channels\n")
	}
	return nil
}

func (a *app) cmdChannels(_ context.Context, s *services.Session, _ command) error {
	current := s.Selection.ChannelID()
	for _, ch := range s.Chat.Channels() {
		marker := " "
		if ch.ID() == current {
			marker = ">"
		}
		lock := ""
		if ch.Locked {
			lock = " [locked]"
		}
		a.out.Printf("%s #%s (%d members)%s %s\n", marker, ch.Name, len(s.Membership.Members(ch.ID())), lock, ch.Description)
	}
	return nil
}

func (a *app) cmdCreate(_ context.Context, s *services.Session, cmd command) error {
	if len(cmd.Args) == 0 {
		return usage("/create <name> [description]")
	}
	req := models.CreateChannelRequest{Name: cmd.Args[0], Description: cmd.Tail(1)}
	if err := req.Validate(); err != nil {
		return err
	}
	if _, ok := findChannel(s, req.Name); ok {
		return fmt.Errorf("#%s already exists", req.Name)
	}
	id := s.Chat.CreateChannel(req.Name, req.Description)
	if id == "" {
		return fmt.Errorf("could not create #%s", req.Name)
	}
	s.Chat.SelectChannel(id)
	return nil
}

func (a *app) cmdJoin(_ context.Context, s *services.Session, cmd command) error {
	if len(cmd.Args) != 1 {
		return usage("/join <channel>")
	}
	ch, ok := findChannel(s, cmd.Args[0])
	if !ok {
		return errors.New(a.localizer.T("cli.notFound"))
	}
	s.Chat.SelectChannel(ch.ID())
	if uid := s.Tracker.LocalUserID(); uid != "" {
		s.Membership.JoinChannel(ch.ID(), uid)
	}
	a.out.Printf("now in #%s\n", ch.Name)
	return nil
}

func (a *app) cmdLeave(_ context.Context, s *services.Session, cmd command) error {
	user, err := a.localUser(s)
	if err != nil {
		return err
	}
	ch, err := a.channelArg(s, cmd)
	if err != nil {
		return err
	}
	s.Membership.LeaveChannel(ch.ID(), user.ID())
	return nil
}

func (a *app) cmdTopic(_ context.Context, s *services.Session, cmd command) error {
	ch, err := a.currentChannel(s)
	if err != nil {
		return err
	}
	s.Chat.UpdateChannel(ch.ID(), ch.Name, cmd.Tail(0))
	return nil
}

func (a *app) cmdLock(_ context.Context, s *services.Session, cmd command) error {
	ch, err := a.channelArg(s, cmd)
	if err != nil {
		return err
	}
	s.Chat.ToggleChannelLock(ch.ID())
	return nil
}

func (a *app) cmdClear(_ context.Context, s *services.Session, cmd command) error {
	ch, err := a.channelArg(s, cmd)
	if err != nil {
		return err
	}
	s.Chat.ClearChannelMessages(ch.ID())
	return nil
}

func (a *app) cmdDrop(_ context.Context, s *services.Session, cmd command) error {
	if len(cmd.Args) != 1 {
		return usage("/drop <channel>")
	}
	ch, ok := findChannel(s, cmd.Args[0])
	if !ok {
		return errors.New(a.localizer.T("cli.notFound"))
	}
	s.Chat.DeleteChannel(ch.ID())
	return nil
}

// ─── Messages ───

func (a *app) cmdMsg(_ context.Context, s *services.Session, cmd command) error {
	user, err := a.localUser(s)
	if err != nil {
		return err
	}
	ch, err := a.currentChannel(s)
	if err != nil {
		return err
	}
	text := cmd.Tail(0)
	if text == "" {
		return usage("/msg <text>")
	}
	if s.Chat.AddMessage(ch.ID(), user.ID(), text, "") == "" {
		return fmt.Errorf("could not post to #%s", ch.Name)
	}
	return nil
}

func (a *app) cmdHistory(_ context.Context, s *services.Session, cmd command) error {
	ch, err := a.currentChannel(s)
	if err != nil {
		return err
	}
	limit := 20
	if len(cmd.Args) > 0 {
		if limit, err = strconv.Atoi(cmd.Args[0]); err != nil || limit <= 0 {
			return usage("/history [count]")
		}
	}
	msgs := s.Chat.Messages(ch.ID())
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for _, m := range msgs {
		replies := 0
		for range s.Chat.ThreadReplies(ch.ID(), m.ID()) {
			replies++
		}
		a.out.Printf("%s\n", formatMessage(s, m, replies))
	}
	return nil
}

func (a *app) cmdReply(_ context.Context, s *services.Session, cmd command) error {
	user, err := a.localUser(s)
	if err != nil {
		return err
	}
	ch, parent, err := a.messageArg(s, cmd, "/reply <message> <text>")
	if err != nil {
		return err
	}
	text := cmd.Tail(1)
	if text == "" {
		return usage("/reply <message> <text>")
	}
	if s.Chat.AddMessage(ch.ID(), user.ID(), text, parent.ID()) == "" {
		return fmt.Errorf("could not reply in #%s", ch.Name)
	}
	s.Chat.OpenThread(ch.ID(), parent.ID())
	return nil
}

func (a *app) cmdThread(_ context.Context, s *services.Session, cmd command) error {
	ch, parent, err := a.messageArg(s, cmd, "/thread <message>")
	if err != nil {
		return err
	}
	s.Chat.OpenThread(ch.ID(), parent.ID())
	a.out.Printf("%s\n", formatMessage(s, *parent, -1))
	for reply := range s.Chat.ThreadReplies(ch.ID(), parent.ID()) {
		a.out.Printf("  ↳ %s\n", formatMessage(s, reply, -1))
	}
	return nil
}

func (a *app) cmdEdit(_ context.Context, s *services.Session, cmd command) error {
	ch, msg, err := a.ownMessageArg(s, cmd, "/edit <message> <text>")
	if err != nil {
		return err
	}
	text := cmd.Tail(1)
	if text == "" {
		return usage("/edit <message> <text>")
	}
	s.Chat.UpdateMessage(ch.ID(), msg.ID(), text)
	return nil
}

func (a *app) cmdDelete(_ context.Context, s *services.Session, cmd command) error {
	ch, msg, err := a.ownMessageArg(s, cmd, "/delete <message>")
	if err != nil {
		return err
	}
	s.Chat.DeleteMessage(ch.ID(), msg.ID())
	return nil
}

func (a *app) cmdReact(_ context.Context, s *services.Session, cmd command) error {
	return a.react(s, cmd, "/react <message> <emoji>", s.Chat.AddReaction)
}

func (a *app) cmdUnreact(_ context.Context, s *services.Session, cmd command) error {
	return a.react(s, cmd, "/unreact <message> <emoji>", s.Chat.RemoveReaction)
}

func (a *app) react(s *services.Session, cmd command, help string, fn func(channelID, id, userID, emoji string) bool) error {
	user, err := a.localUser(s)
	if err != nil {
		return err
	}
	if len(cmd.Args) != 2 {
		return usage(help)
	}
	ch, msg, err := a.messageArg(s, cmd, help)
	if err != nil {
		return err
	}
	fn(ch.ID(), msg.ID(), user.ID(), cmd.Args[1])
	return nil
}

func (a *app) cmdDismiss(cmd command) error {
	if len(cmd.Args) != 1 {
		return usage("/dismiss <toast>|all")
	}
	feed := a.manager.Feed()
	if cmd.Args[0] == "all" {
		feed.Clear()
		return nil
	}
	for _, t := range feed.List() {
		if strings.HasPrefix(t.ID, cmd.Args[0]) {
			feed.Dismiss(t.ID)
			return nil
		}
	}
	return errors.New(a.localizer.T("cli.notFound"))
}

// ─── Helpers ───

func usage(s string) error {
	return fmt.Errorf("usage: %s", s)
}

func (a *app) localUser(s *services.Session) (*models.User, error) {
	if user, ok := s.Chat.CurrentUser(); ok {
		return user, nil
	}
	return nil, errors.New(a.localizer.T("cli.noUser"))
}

func (a *app) currentChannel(s *services.Session) (*models.Channel, error) {
	if ch, ok := s.Chat.CurrentChannel(); ok {
		return ch, nil
	}
	return nil, errors.New(a.localizer.T("cli.noChannel"))
}

// channelArg, ilk argümandaki kanalı, yoksa aktif kanalı döner.
func (a *app) channelArg(s *services.Session, cmd command) (*models.Channel, error) {
	if len(cmd.Args) == 0 {
		return a.currentChannel(s)
	}
	ch, ok := findChannel(s, cmd.Args[0])
	if !ok {
		return nil, errors.New(a.localizer.T("cli.notFound"))
	}
	return ch, nil
}

// messageArg, aktif kanalda id'si ilk argümanla başlayan mesajı bulur.
func (a *app) messageArg(s *services.Session, cmd command, help string) (*models.Channel, *models.Message, error) {
	if len(cmd.Args) == 0 {
		return nil, nil, usage(help)
	}
	ch, err := a.currentChannel(s)
	if err != nil {
		return nil, nil, err
	}
	msg, ok := findMessage(s, ch.ID(), cmd.Args[0])
	if !ok {
		return nil, nil, errors.New(a.localizer.T("cli.notFound"))
	}
	return ch, msg, nil
}

// ownMessageArg, messageArg gibi; ayrıca mesajın local kullanıcıya ait
// olmasını şart koşar.
func (a *app) ownMessageArg(s *services.Session, cmd command, help string) (*models.Channel, *models.Message, error) {
	user, err := a.localUser(s)
	if err != nil {
		return nil, nil, err
	}
	ch, msg, err := a.messageArg(s, cmd, help)
	if err != nil {
		return nil, nil, err
	}
	if msg.Meta.UserID != user.ID() {
		return nil, nil, errors.New("you can only change your own messages")
	}
	return ch, msg, nil
}

// findChannel, kanalı adına (# önekli veya öneksiz) ya da id'sine göre bulur.
func findChannel(s *services.Session, ref string) (*models.Channel, bool) {
	name := models.NormalizeChannelName(strings.TrimPrefix(ref, "#"))
	for _, ch := range s.Chat.Channels() {
		if ch.Name == name || ch.ID() == ref {
			return &ch, true
		}
	}
	return nil, false
}

// findMessage, id ön ekiyle mesaj arar (thread yanıtları dahil). Birden
// fazla eşleşme varsa bulunamamış sayılır.
func findMessage(s *services.Session, channelID, prefix string) (*models.Message, bool) {
	if msg, ok := s.Chat.Message(channelID, prefix); ok {
		return msg, true
	}

	var matches []models.Message
	for _, m := range s.Chat.Messages(channelID) {
		if strings.HasPrefix(m.ID(), prefix) {
			matches = append(matches, m)
		}
		for reply := range s.Chat.ThreadReplies(channelID, m.ID()) {
			if strings.HasPrefix(reply.ID(), prefix) {
				matches = append(matches, reply)
			}
		}
	}
	if len(matches) != 1 {
		return nil, false
	}
	return &matches[0], true
}

// formatMessage, tek satırlık mesaj görünümü. replies < 0 ise yanıt sayısı
// yazılmaz.
func formatMessage(s *services.Session, m models.Message, replies int) string {
	author := m.Meta.UserID
	if u, ok := s.Chat.User(m.Meta.UserID); ok {
		author = u.DisplayName(author)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s: ",
		time.UnixMilli(m.Meta.CreatedAt).Format("15:04:05"),
		shortID(m.ID()),
		author,
	)
	switch {
	case m.Deleted:
		b.WriteString("(deleted)")
	default:
		b.WriteString(m.Text)
		if m.Edited() {
			b.WriteString(" (edited)")
		}
	}
	for _, g := range m.Reactions {
		fmt.Fprintf(&b, " %s%d", g.Emoji, g.Count)
	}
	if replies > 0 {
		fmt.Fprintf(&b, " [%d replies]", replies)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > shortIDLength {
		return id[:shortIDLength]
	}
	return id
}

const helpText = `commands:
  /nick <username> [full name]     choose who you are
  /profile fullname|avatar <value> update your profile
  /channels                        list channels
  /create <name> [description]     create and open a channel
  /join <channel>                  open a channel and become a member
  /leave [channel]                 leave a channel
  /topic <text>                    set the channel description
  /lock [channel]                  toggle the channel lock
  /clear [channel]                 remove every message in a channel
  /drop <channel>                  delete a channel
  /init                            create the default channels
  <text> or /msg <text>            post to the current channel
  /history [count]                 show recent messages
  /reply <message> <text>          reply in a thread
  /thread <message>                show a thread
  /edit <message> <text>           edit your message
  /delete <message>                delete your message
  /react <message> <emoji>         add a reaction
  /unreact <message> <emoji>       remove a reaction
  /who                             who is online
  /status                          connection status
  /toasts, /dismiss <id>|all       notifications
  /workspace <id>                  switch workspace
  /relay-stats                     relay metrics
  /quit
`
