package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	hookShell           string
	hookInactive        bool
	hookNoPromptIndicator bool
)

var hookCmd = &cobra.Command{
	Use:     "hook",
	GroupID: "setup",
	Short:   "Generate shell integration scripts",
}

var hookInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print a shell hook script for eval in your rc file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shell := hookShell
		if shell == "" {
			shell = "bash"
		}
		if shell != "bash" && shell != "zsh" {
			return fmt.Errorf("hook init: unsupported --shell %q (want bash or zsh)", shell)
		}
		fmt.Print(generateHook(shell, !hookInactive, !hookNoPromptIndicator))
		return nil
	},
}

func init() {
	hookInitCmd.Flags().StringVar(&hookShell, "shell", "bash", "shell to generate the hook for: bash or zsh")
	hookInitCmd.Flags().BoolVar(&hookInactive, "inactive", false, "install aliases only, without automatic tracking")
	hookInitCmd.Flags().BoolVar(&hookNoPromptIndicator, "no-prompt-indicator", false, "don't add a hook-status glyph to the prompt")
	hookCmd.AddCommand(hookInitCmd)
}

// generateHook builds the shell integration script bird's own CLI exposes
// (spec.md §6's CLI table plus §7.1's supplemented wrapper contract): a
// preexec/precmd (zsh) or PS0/PROMPT_COMMAND (bash) pair that shells out to
// "bird save" after each command completes, with BIRD_IGNORE/BIRD_EXCLUDE
// exclusion staying entirely inside this generated script; the opt-out
// sentinel is checked by `bird save`/`bird run` themselves (sentinel.go)
// (grounded on shq/src/hooks.rs's generate()).
func generateHook(shell string, active, promptIndicator bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# bird shell integration for %s", shell)
	switch {
	case !active:
		b.WriteString(" (inactive mode)\n# Hooks are not enabled by default - use bird-on to activate\n")
	case !promptIndicator:
		b.WriteString(" (no prompt indicator)\n")
		fmt.Fprintf(&b, "# Add to ~/.%src: eval \"$(bird hook init --shell %s)\"\n", shell, shell)
	default:
		b.WriteString("\n")
		fmt.Fprintf(&b, "# Add to ~/.%src: eval \"$(bird hook init --shell %s)\"\n", shell, shell)
	}
	b.WriteString("#\n# Privacy escapes (command not recorded):\n")
	b.WriteString("#   - Start command with a space: \" ls -la\"\n")
	b.WriteString("#   - Start command with backslash: \"\\ls -la\"\n#\n")
	b.WriteString("# Temporary disable: export BIRD_DISABLED=1\n")
	b.WriteString("# Exclude patterns: export BIRD_EXCLUDE=\"*password*:*secret*\"\n\n")

	fmt.Fprintf(&b, "__bird_session_id=\"%s-$$\"\n\n", shell)

	if active {
		b.WriteString(ignorePatternsScript())
		b.WriteString(shouldIgnoreFn(shell))
		if shell == "zsh" {
			b.WriteString(zshHookFunctions())
		} else {
			b.WriteString(bashHookFunctions())
		}
		b.WriteString(onOffFunctions(shell, promptIndicator))
		b.WriteString(registerHooks(shell))
	} else {
		b.WriteString(inactiveOnOffFunctions(shell))
	}

	if promptIndicator {
		b.WriteString(promptIndicatorSetup(shell, active))
	}

	b.WriteString(aliasesScript())

	if !active {
		b.WriteString("\n[[ -z \"$__bird_quiet\" ]] && echo \"bird loaded (inactive). Use bird-on to enable hooks.\"\n")
	}

	return b.String()
}

func ignorePatternsScript() string {
	return `# Default ignore patterns (colon-separated) - bird commands, job control, etc.
: ${BIRD_IGNORE:="bird *:%*:fg:fg *:bg:bg *:jobs:jobs *:exit:logout:clear:history:history *"}

`
}

func shouldIgnoreFn(shell string) string {
	patternMatch := "$pattern"
	if shell == "zsh" {
		patternMatch = "$~pattern"
	}
	return fmt.Sprintf(`# Check if command should be ignored (matches BIRD_IGNORE or BIRD_EXCLUDE)
__bird_should_ignore() {
    local cmd="$1"
    local IFS=':'
    for pattern in $BIRD_IGNORE; do
        [[ "$cmd" == %s ]] && return 0
    done
    [[ -n "$BIRD_EXCLUDE" ]] && for pattern in $BIRD_EXCLUDE; do
        [[ "$cmd" == %s ]] && return 0
    done
    return 1
}

`, patternMatch, patternMatch)
}

func zshHookFunctions() string {
	return `# Capture command before execution
__bird_preexec() {
    __bird_last_cmd="$1"
    __bird_start_time=$EPOCHREALTIME
}

# Capture result after execution (metadata only - no output capture)
__bird_precmd() {
    local exit_code=$?
    local cmd="$__bird_last_cmd"
    __bird_last_cmd=""

    [[ -n "$BIRD_DISABLED" ]] && return
    [[ -z "$cmd" ]] && return
    [[ "$cmd" =~ ^[[:space:]] ]] && return
    [[ "$cmd" =~ ^\\ ]] && return
    __bird_should_ignore "$cmd" && return

    local duration=0
    if [[ -n "$__bird_start_time" ]]; then
        duration=$(( (EPOCHREALTIME - __bird_start_time) * 1000 ))
        duration=${duration%.*}
    fi
    __bird_start_time=""

    (
        bird save -c "$cmd" -x "$exit_code" -d "$duration" \
            --session-id "$__bird_session_id" \
            --invoker-pid $$ --invoker zsh \
            -q </dev/null \
            2>> "${BIRD_ROOT:-$HOME/.local/share/bird}/errors.log"
    ) &!
}

`
}

func bashHookFunctions() string {
	return `# Millisecond timer (with fallback for older bash)
__bird_now_ms() {
    if [[ -n "$EPOCHREALTIME" ]]; then
        local sec=${EPOCHREALTIME%.*}
        local frac=${EPOCHREALTIME#*.}
        echo $(( sec * 1000 + 10#${frac:0:3} ))
    else
        echo $(( $(date +%s) * 1000 ))
    fi
}

# PS0 hook: fires after command read, before execution
__bird_ps0_hook() {
    __bird_start_ms=$(__bird_now_ms)
}
PS0='${__bird_cmd:+$(__bird_ps0_hook)}'

# PROMPT_COMMAND hook: fires after command completes
__bird_prompt_command() {
    local exit_code=$?
    local cmd
    cmd=$(HISTTIMEFORMAT='' history 1 | sed 's/^[ ]*[0-9]*[ ]*//')

    [[ -n "$BIRD_DISABLED" ]] && { __bird_cmd=""; return; }
    [[ -z "$cmd" ]] && return
    [[ "$cmd" =~ ^[[:space:]] ]] && { __bird_cmd=""; return; }
    [[ "$cmd" =~ ^\\ ]] && { __bird_cmd=""; return; }
    __bird_should_ignore "$cmd" && { __bird_cmd=""; return; }

    local duration=0
    if [[ -n "$__bird_start_ms" ]]; then
        local end_ms=$(__bird_now_ms)
        duration=$(( end_ms - __bird_start_ms ))
    fi

    __bird_cmd=1
    __bird_start_ms=""

    (
        bird save -c "$cmd" -x "$exit_code" -d "$duration" \
            --session-id "$__bird_session_id" \
            --invoker-pid $$ --invoker bash \
            -q </dev/null \
            2>> "${BIRD_ROOT:-$HOME/.local/share/bird}/errors.log"
    ) & disown
}

`
}

func onOffFunctions(shell string, promptIndicator bool) string {
	const unaliasList = "% %run %r %rerun %R %history %h %i %output %o %info %I %events %e %stats %s %S %%"
	restorePS1 := ""
	initFlag := " --no-prompt-indicator"
	if promptIndicator {
		restorePS1 = "    [[ -n \"$__bird_orig_ps1\" ]] && PS1=\"$__bird_orig_ps1\"\n    unset __bird_orig_ps1 BIRD_INDICATOR\n"
		initFlag = ""
	}

	if shell == "zsh" {
		return fmt.Sprintf(`bird-off() {
    add-zsh-hook -d preexec __bird_preexec
    add-zsh-hook -d precmd __bird_precmd
    unset __bird_last_cmd __bird_start_time __bird_session_id
    unalias %s 2>/dev/null
%s    [[ -z "$__bird_quiet" ]] && echo "bird disabled (use bird-on to re-enable)"
    unset __bird_quiet
}

bird-on() {
    [[ -n "$__bird_orig_ps1" ]] && PS1="$__bird_orig_ps1"
    unset __bird_orig_ps1 BIRD_INDICATOR
    eval "$(bird hook init --shell zsh%s)"
}

`, unaliasList, restorePS1, initFlag)
	}
	return fmt.Sprintf(`bird-off() {
    PROMPT_COMMAND="${PROMPT_COMMAND//__bird_prompt_command; /}"
    PROMPT_COMMAND="${PROMPT_COMMAND//__bird_prompt_command;/}"
    PROMPT_COMMAND="${PROMPT_COMMAND//__bird_prompt_command/}"
    PROMPT_COMMAND="${PROMPT_COMMAND#; }"; PROMPT_COMMAND="${PROMPT_COMMAND#;}"
    unset __bird_cmd __bird_start_ms __bird_session_id PS0
    unalias %s 2>/dev/null
%s    [[ -z "$__bird_quiet" ]] && echo "bird disabled (use bird-on to re-enable)"
    unset __bird_quiet
}

bird-on() {
    [[ -n "$__bird_orig_ps1" ]] && PS1="$__bird_orig_ps1"
    unset __bird_orig_ps1 BIRD_INDICATOR
    eval "$(bird hook init --shell bash%s)"
}

`, unaliasList, restorePS1, initFlag)
}

func inactiveOnOffFunctions(shell string) string {
	const unaliasList = "% %run %r %rerun %R %history %h %i %output %o %info %I %events %e %stats %s %S %%"
	if shell == "zsh" {
		return fmt.Sprintf(`bird-off() {
    unalias %s 2>/dev/null
    [[ -n "$__bird_orig_ps1" ]] && PS1="$__bird_orig_ps1"
    unset __bird_orig_ps1 BIRD_INDICATOR
    [[ -z "$__bird_quiet" ]] && echo "bird disabled"
    unset __bird_quiet
}

bird-on() {
    [[ -n "$__bird_orig_ps1" ]] && PS1="$__bird_orig_ps1"
    unset __bird_orig_ps1 BIRD_INDICATOR
    eval "$(bird hook init --shell zsh)"
}

`, unaliasList)
	}
	return fmt.Sprintf(`bird-off() {
    PROMPT_COMMAND="${PROMPT_COMMAND//__bird_prompt_command; /}"
    PROMPT_COMMAND="${PROMPT_COMMAND//__bird_prompt_command;/}"
    PROMPT_COMMAND="${PROMPT_COMMAND//__bird_prompt_command/}"
    PROMPT_COMMAND="${PROMPT_COMMAND#; }"; PROMPT_COMMAND="${PROMPT_COMMAND#;}"
    unset __bird_cmd __bird_start_ms __bird_session_id PS0
    unalias %s 2>/dev/null
    [[ -n "$__bird_orig_ps1" ]] && PS1="$__bird_orig_ps1"
    unset __bird_orig_ps1 BIRD_INDICATOR
    [[ -z "$__bird_quiet" ]] && echo "bird disabled"
    unset __bird_quiet
}

bird-on() {
    [[ -n "$__bird_orig_ps1" ]] && PS1="$__bird_orig_ps1"
    unset __bird_orig_ps1 BIRD_INDICATOR
    eval "$(bird hook init --shell bash)"
}

`, unaliasList)
}

func registerHooks(shell string) string {
	if shell == "zsh" {
		return `# Register hooks
autoload -Uz add-zsh-hook
add-zsh-hook preexec __bird_preexec
add-zsh-hook precmd __bird_precmd

`
	}
	return `# Register PROMPT_COMMAND
if [[ -z "$PROMPT_COMMAND" ]]; then
    PROMPT_COMMAND="__bird_prompt_command"
else
    PROMPT_COMMAND="__bird_prompt_command; $PROMPT_COMMAND"
fi

`
}

func promptIndicatorSetup(shell string, active bool) string {
	indicator := "●"
	if !active {
		indicator = "⏸"
	}
	if shell == "zsh" {
		return fmt.Sprintf("# Prompt indicator\n__bird_orig_ps1=\"$PS1\"\nexport BIRD_INDICATOR=\"%%F{242}%s%%f \"\nPS1=\"${BIRD_INDICATOR}${PS1}\"\n\n", indicator)
	}
	return fmt.Sprintf("# Prompt indicator\n__bird_orig_ps1=\"$PS1\"\nexport BIRD_INDICATOR='\\[\\033[90m\\]%s\\[\\033[0m\\] '\nPS1=\"${BIRD_INDICATOR}${PS1}\"\n\n", indicator)
}

func aliasesScript() string {
	return `# Convenience aliases
alias %='bird run'
alias %run='bird run'
alias %r='bird run'
alias %rerun='bird rerun'
alias %R='bird rerun'
alias %history='bird invocations'
alias %h='bird invocations'
alias %i='bird invocations'
alias %output='bird output'
alias %o='bird output'
alias %info='bird info'
alias %I='bird info'
alias %events='bird events'
alias %e='bird events'
alias %stats='bird stats'
alias %s='bird stats'
alias %S='bird stats'
alias %%='bird'
`
}
