package cmd

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/codecli/internal/chat"
	"github.com/joescharf/codecli/internal/client"
	"github.com/joescharf/codecli/internal/models"
)

var (
	chatAttach  []string
	chatNoWait  bool
	chatHistory bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <message...>",
	Short: "Send a message and wait for the reply",
	Long: `Send a message in the current session and wait for the reply.

Without a selected session the server creates one on this send, using the
cli profile and path chosen with 'codecli use'. The reply is polled every
poll.interval until it arrives or poll.max_attempts is reached; a reply
that takes longer stays pending and can be read later with
'codecli session show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return chatRun(cmd.Context(), args)
	},
}

func init() {
	chatCmd.Flags().StringArrayVarP(&chatAttach, "attach", "a", nil, "Attach a file (repeatable)")
	chatCmd.Flags().BoolVar(&chatNoWait, "no-wait", false, "Return once the message is accepted")
	chatCmd.Flags().BoolVar(&chatHistory, "history", false, "Print the session history before sending")
	rootCmd.AddCommand(chatCmd)
}

// readAttachments loads files for upload, guessing each mime type from the
// extension and falling back to content sniffing.
func readAttachments(paths []string) ([]client.Attachment, error) {
	out := make([]client.Attachment, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		mt := mime.TypeByExtension(filepath.Ext(p))
		if mt == "" {
			mt = http.DetectContentType(data)
		}
		out = append(out, client.Attachment{FileName: filepath.Base(p), MimeType: mt, Data: data})
	}
	return out, nil
}

// pollOutcome is the first terminal event a Poller reports.
type pollOutcome struct {
	detail *models.SessionWithMessages
	err    error
}

func chatRun(ctx context.Context, args []string) error {
	content := strings.TrimSpace(strings.Join(args, " "))
	if content == "" && len(chatAttach) == 0 {
		return fmt.Errorf("nothing to send: pass a message or --attach a file")
	}
	attachments, err := readAttachments(chatAttach)
	if err != nil {
		return err
	}

	st, err := loadState()
	if err != nil {
		return err
	}
	c := apiClient(st)

	conv := &client.Conversation{}
	if st.SessionID != "" {
		detail, err := c.GetSession(ctx, st.SessionID)
		switch {
		case client.IsNotFound(err):
			ui.Warning("Session %s no longer exists; starting a new one", st.SessionID)
			st.NewConversation()
		case err != nil:
			return fmt.Errorf("get session: %w", err)
		default:
			conv.Replace(detail)
			if chatHistory {
				ui.Transcript(detail)
			}
		}
	}

	if dryRun {
		ui.DryRunMsg("Would send %q with %d attachment(s) to %s", content, len(attachments), c.BaseURL())
		return nil
	}

	conv.AddProvisional(content)
	entries := conv.Entries()
	ui.Message(entries[len(entries)-2].Message, true)

	res, err := c.Send(ctx, client.SendRequest{
		SessionID:   st.SessionID,
		CLIID:       st.CLIID,
		Path:        st.Path,
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		conv.DiscardProvisional()
		if client.IsConflict(err) {
			return fmt.Errorf("the previous reply in this session is still pending; wait for it or start a new conversation with 'codecli use --new'")
		}
		return fmt.Errorf("send message: %w", err)
	}
	if res.SessionCreated {
		st.SessionID = res.Session.ID
		if err := saveState(st); err != nil {
			return err
		}
		ui.VerboseLog("Created session %s in %s", res.Session.ID, res.Session.Path)
	}

	if chatNoWait {
		ui.Message(res.PendingMessage, false)
		ui.Info("Accepted; read the reply later with: codecli session show %s", res.Session.ID)
		return nil
	}

	detail, err := awaitReply(ctx, c, res)
	if errors.Is(err, client.ErrPollTimeout) {
		ui.Warning("%v; check later with: codecli session show %s", err, res.Session.ID)
		return nil
	}
	if err != nil {
		return err
	}
	conv.Replace(detail)
	for _, e := range conv.Entries() {
		if e.Message.ID == res.PendingMessage.ID {
			ui.Message(e.Message, false)
		}
	}
	return nil
}

// awaitReply polls the session until the placeholder created by res is answered.
func awaitReply(ctx context.Context, c *client.Client, res *chat.SendResult) (*models.SessionWithMessages, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	done := make(chan pollOutcome, 1)
	report := func(o pollOutcome) {
		select {
		case done <- o:
		default:
		}
	}

	p := client.NewPoller(c, client.PollerConfig{
		Interval:    viper.GetDuration("poll.interval"),
		MaxAttempts: viper.GetInt("poll.max_attempts"),
		OnUpdate: func(detail *models.SessionWithMessages) {
			if !detail.HasPending() {
				report(pollOutcome{detail: detail})
			}
		},
		OnGiveUp: func(_ string, err error) {
			report(pollOutcome{err: err})
		},
		OnError: func(sessionID string, err error) {
			ui.VerboseLog("poll %s: %v", sessionID, err)
		},
	})
	defer p.Stop()

	p.Observe(res.Session.ID, &models.SessionWithMessages{
		Session:  *res.Session,
		Messages: []*models.Message{res.UserMessage, res.PendingMessage},
	})

	select {
	case o := <-done:
		return o.detail, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stopped waiting for the reply: %w", ctx.Err())
	}
}
