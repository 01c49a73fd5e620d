package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/satindergrewal/improv/internal/layers"
)

// Action is what an agent command asks the session to do.
type Action string

const (
	ActionNone         Action = ""
	ActionGenerateAll  Action = "generate_all"
	ActionGenerate     Action = "generate"
	ActionPlay         Action = "play"
	ActionStop         Action = "stop"
	ActionMute         Action = "mute"
	ActionUnmute       Action = "unmute"
	ActionRemove       Action = "remove"
	ActionSetGenre     Action = "set_genre"
	ActionMetronomeOn  Action = "metronome_on"
	ActionMetronomeOff Action = "metronome_off"
	ActionEnterLooper  Action = "enter_looper"
	ActionExitLooper   Action = "exit_looper"
	ActionAnalyze      Action = "analyze"
	ActionReset        Action = "reset"
)

// Command is a parsed agent instruction.
type Command struct {
	Action Action      `json:"action"`
	Kind   layers.Kind `json:"kind,omitempty"`
	Genre  string      `json:"genre,omitempty"`
	Text   string      `json:"text"`
}

var genreAliases = map[string]string{
	"doo-wop":    "doo-wop",
	"doo wop":    "doo-wop",
	"doowop":     "doo-wop",
	"gospel":     "gospel",
	"barbershop": "barbershop",
	"lo-fi":      "lo-fi",
	"lofi":       "lo-fi",
	"lo fi":      "lo-fi",
	"jazz":       "jazz",
	"jazzy":      "jazz",
	"scat":       "jazz",
	"pop":        "pop",
}

var (
	enterPhrases = []string{"add a layer", "i want to sing", "let me record", "loop mode", "record my voice", "i want to jam"}
	exitPhrases  = []string{"i'm done", "im done", "stop recording", "that's good", "finished", "done"}
)

// ParseCommand maps agent tool names and spoken phrases to a Command.
func ParseCommand(text string) Command {
	cmd := Command{Text: text}
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return cmd
	}

	// Tool calls arrive as the bare tool name, optionally followed by an argument.
	tool, arg, _ := strings.Cut(s, " ")
	switch tool {
	case "generate_backing_track", "make_music":
		cmd.Action = ActionGenerateAll
		cmd.Genre = findGenre(arg)
		return cmd
	case "enter_looper_mode":
		cmd.Action = ActionEnterLooper
		return cmd
	case "exit_looper_mode":
		cmd.Action = ActionExitLooper
		return cmd
	}

	if containsAny(s, enterPhrases) {
		cmd.Action = ActionEnterLooper
		return cmd
	}
	if containsAny(s, exitPhrases) {
		cmd.Action = ActionExitLooper
		return cmd
	}

	kind := findKind(s)
	switch {
	case strings.Contains(s, "metronome") || strings.Contains(s, "click"):
		cmd.Kind = layers.Metronome
		if containsAny(s, []string{"off", "stop", "no ", "remove", "mute"}) {
			cmd.Action = ActionMetronomeOff
		} else {
			cmd.Action = ActionMetronomeOn
		}
	case strings.Contains(s, "unmute") && kind != "":
		cmd.Action, cmd.Kind = ActionUnmute, kind
	case strings.Contains(s, "mute") && kind != "":
		cmd.Action, cmd.Kind = ActionMute, kind
	case containsAny(s, []string{"remove", "delete", "drop"}) && kind != "":
		cmd.Action, cmd.Kind = ActionRemove, kind
	case containsAny(s, []string{"generate", "make", "create", "give me"}):
		cmd.Genre = findGenre(s)
		if kind != "" && kind.IsGenerated() {
			cmd.Action, cmd.Kind = ActionGenerate, kind
		} else {
			cmd.Action = ActionGenerateAll
		}
	case containsAny(s, []string{"feedback", "how did i do", "analyze", "analyse"}):
		cmd.Action = ActionAnalyze
	case strings.Contains(s, "reset") || strings.Contains(s, "start over"):
		cmd.Action = ActionReset
	case containsAny(s, []string{"stop", "pause", "quiet"}):
		cmd.Action = ActionStop
	case containsAny(s, []string{"play", "start", "loop"}):
		cmd.Action = ActionPlay
	default:
		if g := findGenre(s); g != "" {
			cmd.Action, cmd.Genre = ActionSetGenre, g
		}
	}
	return cmd
}

// Dispatch runs cmd against the controller and returns a short reply.
func (c *Controller) Dispatch(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Action {
	case ActionGenerateAll:
		if cmd.Genre != "" {
			if err := c.SetGenre(ctx, cmd.Genre, 0); err != nil {
				return "", err
			}
		}
		if err := c.GenerateAll(ctx); err != nil {
			return "", err
		}
		st := c.Status()
		return fmt.Sprintf("backing layers ready: %s at %d BPM", st.Genre, st.BPM), nil
	case ActionGenerate:
		if cmd.Genre != "" {
			if err := c.SetGenre(ctx, cmd.Genre, 0); err != nil {
				return "", err
			}
		}
		if err := c.GenerateLayer(ctx, cmd.Kind); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s layer ready", cmd.Kind), nil
	case ActionPlay:
		c.Play(true)
		return "playing", nil
	case ActionStop:
		c.Stop()
		return "stopped", nil
	case ActionMute:
		c.SetMuted(cmd.Kind, true)
		return fmt.Sprintf("%s muted", cmd.Kind), nil
	case ActionUnmute:
		c.SetMuted(cmd.Kind, false)
		return fmt.Sprintf("%s unmuted", cmd.Kind), nil
	case ActionRemove:
		c.RemoveLayer(cmd.Kind)
		return fmt.Sprintf("%s removed", cmd.Kind), nil
	case ActionSetGenre:
		if err := c.SetGenre(ctx, cmd.Genre, 0); err != nil {
			return "", err
		}
		return fmt.Sprintf("genre set to %s", cmd.Genre), nil
	case ActionMetronomeOn:
		if err := c.ToggleMetronome(ctx, true); err != nil {
			return "", err
		}
		return "metronome on", nil
	case ActionMetronomeOff:
		if err := c.ToggleMetronome(ctx, false); err != nil {
			return "", err
		}
		return "metronome off", nil
	case ActionEnterLooper:
		if !c.Status().Playing {
			c.Play(true)
		}
		if err := c.StartRecording(ctx); err != nil {
			return "", err
		}
		return "recording", nil
	case ActionExitLooper:
		if err := c.StopRecording(ctx); err != nil {
			return "", err
		}
		return "take added as the user layer", nil
	case ActionAnalyze:
		res, err := c.Analyze(ctx, nil, "")
		if err != nil {
			return "", err
		}
		return res.Feedback.Feedback, nil
	case ActionReset:
		c.Reset()
		return "session reset", nil
	default:
		return "", fmt.Errorf("unrecognized command %q", cmd.Text)
	}
}

func findKind(s string) layers.Kind {
	for _, k := range layers.All {
		if strings.Contains(s, string(k)) {
			return k
		}
	}
	switch {
	case containsAny(s, []string{"beatbox", "percussion", "drums"}):
		return layers.Rhythm
	case containsAny(s, []string{"my voice", "my take", "vocal"}):
		return layers.User
	}
	return ""
}

func findGenre(s string) string {
	// Longest alias first so "doo wop" wins over shorter matches.
	best := ""
	for alias := range genreAliases {
		if strings.Contains(s, alias) && len(alias) > len(best) {
			best = alias
		}
	}
	return genreAliases[best]
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
