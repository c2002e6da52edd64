// Package rtconsole is a client for realtime speech conversation APIs
// (OpenAI Realtime and Azure OpenAI Realtime) plus the building blocks of a
// voice console on top of it.
//
// The root package holds the websocket Client, the Conversation mirror that
// folds server events into items, session and tool configuration, and the
// typed errors and logger shared by the subpackages:
//
//   - console: the voice session controller (lifecycle, capture/playback
//     bridge, event log and transcript)
//   - wavtools: microphone recorder, stream player and spectrum analysis
//   - relay: websocket relay so browser consoles never hold the API key
//   - webrtc: ephemeral session secrets and a headless WebRTC monitor
//
// Basic usage:
//
//	cfg := rtconsole.ConfigFromEnv()
//	client := rtconsole.New(cfg)
//	client.On(rtconsole.EventConversationUpdated, func(n rtconsole.Notification) {
//		fmt.Println(n.Item.Formatted.Transcript)
//	})
//	if err := client.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//	_ = client.SendUserMessageContent(ctx, []rtconsole.ContentPart{rtconsole.InputTextPart("Hello!")})
package rtconsole
