package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/BioHazard786/meshcall/internal/roomname"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagVideo    bool
	flagMic      string
	flagCamera   string
	flagScreen   string
	flagDomain   string
	flagBroker   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room|url]",
	Aliases: []string{"j"},
	Short:   "Join a group call, or start one",
	Long: `Join the call in a room. The first participant to arrive hosts the room;
everyone else joins as a guest and is introduced to the others by the host.
Without a room name a new one is made up for you to share.

Examples:
  meshcall join
  meshcall join standup
  meshcall join https://meshcall.qzz.io/r/standup --video
  meshcall join standup --mic voice.ogg --camera face.ivf --screen slides.ivf`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			room := roomname.Generate()
			ui.PrintInfo(fmt.Sprintf("Starting a new room: %s", room))
			return joinCall(cmd.Context(), room)
		}

		room, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinCall(cmd.Context(), room)
	},
}

func joinCall(ctx context.Context, room string) error {
	cfg, err := LoadConfig(config.Options{
		ConfigFile: flagConfig,
		Domain:     flagDomain,
		BrokerURL:  flagBroker,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		Microphone: flagMic,
		Camera:     flagCamera,
		Display:    flagScreen,
		LogLevel:   flagLogLevel,
	})
	if err != nil {
		return err
	}
	log := logging.Init(cfg.LogLevel)

	session, err := NewCallSession(cfg, room, log)
	if err != nil {
		return err
	}

	var (
		role mesh.Role
		self peernet.ID
	)
	fmt.Println()
	err = ui.WithSpinner(fmt.Sprintf("Joining %s...", room), fmt.Sprintf("Joined %s", room), func() error {
		role, self, err = session.Join(ctx, room, flagVideo)
		return err
	})
	if err != nil {
		return explainJoinError(err)
	}

	link := cfg.RoomLink(room)
	if role == mesh.RoleHost {
		fmt.Println(ui.RoomInfoView(room, link))
	}

	// An interrupt ends the call the same way pressing q does.
	stop := context.AfterFunc(ctx, func() { session.Leave() })
	defer stop()

	model, uiErr := ui.RunCall(session, link)
	leaveErr := session.Leave()

	reason := "left"
	if cause := session.Err(); cause != nil {
		reason = cause.Error()
		ui.PrintWarning("Call ended: " + reason)
	} else {
		ui.PrintSuccess("Left " + room)
	}
	summary := ui.CallSummary{
		Room:     room,
		Role:     role,
		Identity: string(self),
		Reason:   reason,
	}
	if model != nil {
		summary.Duration = model.Duration()
		summary.PeersSeen = model.PeersSeen()
	}
	fmt.Println()
	ui.RenderCallSummary(summary)

	return errors.Join(uiErr, leaveErr)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().BoolVarP(&flagVideo, "video", "v", false, "Join with the camera on")
	joinCmd.Flags().StringVar(&flagMic, "mic", "", "Ogg/Opus file to use as the microphone (default silence)")
	joinCmd.Flags().StringVar(&flagCamera, "camera", "", "VP8 IVF file to use as the camera")
	joinCmd.Flags().StringVar(&flagScreen, "screen", "", "VP8 IVF file to use for screen sharing")
	joinCmd.Flags().StringVar(&flagDomain, "domain", "", "Custom domain")
	joinCmd.Flags().StringVar(&flagBroker, "broker", "", "Broker websocket URL (default wss://<domain>/ws)")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
}
