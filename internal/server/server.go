// Package server exposes call operations as MCP tools over stdio, using the
// official MCP Go SDK (github.com/modelcontextprotocol/go-sdk).
//
// The controlling agent drives a phone-style conversation through seven tools:
// initiate_call, continue_call, speak, report_completion, get_transcript,
// end_call, and test_audio. Logs must go to stderr; stdout carries the MCP
// protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/talktome/internal/call"
)

// SelfTester verifies that the audio pipeline is usable, returning a
// human-readable report.
type SelfTester interface {
	Test(ctx context.Context) (string, error)
}

// Config holds the dependencies for a [Server].
type Config struct {
	// Manager owns the call lifecycle. Required.
	Manager *call.Manager

	// Tester backs the test_audio tool. Optional; when nil the tool reports
	// that self-testing is not configured.
	Tester SelfTester

	// Version is reported to MCP clients during initialisation.
	Version string
}

// Server is the MCP stdio server for talktome.
type Server struct {
	mgr    *call.Manager
	tester SelfTester
	srv    *mcpsdk.Server
}

// New builds the MCP server and registers all call tools.
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("server: Manager must not be nil")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mgr:    cfg.Manager,
		tester: cfg.Tester,
		srv: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "talktome",
			Version: version,
		}, nil),
	}

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name: "initiate_call",
		Description: "Start a voice call with the user: speaks the message aloud if one " +
			"is given, then blocks until the user finishes replying and returns their " +
			"reply as text. Fails if a call is already active.",
	}, s.initiateCall)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name: "continue_call",
		Description: "Speak the message on the active call and wait for the user's " +
			"reply. Returns the reply as text. If the user said something while you " +
			"were busy, the most recent utterance is returned immediately.",
	}, s.continueCall)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name: "speak",
		Description: "Speak the message on the active call without waiting for a " +
			"reply. Use for acknowledgements like 'one moment' before a long task.",
	}, s.speak)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name: "report_completion",
		Description: "Report the outcome of a task to the user and wait for their " +
			"reaction. Behaves like continue_call; use it when you have finished " +
			"something the user asked for.",
	}, s.reportCompletion)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "get_transcript",
		Description: "Return the transcript of the active call so far, one timestamped line per utterance.",
	}, s.getTranscript)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name: "end_call",
		Description: "End the active call and return the full transcript, including " +
			"anything the user was still saying when the call ended.",
	}, s.endCall)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "test_audio",
		Description: "Check that the microphone, speakers, and speech providers are working. Run this before the first call.",
	}, s.testAudio)

	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("mcp server listening on stdio")
	if err := s.srv.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("server: run: %w", err)
	}
	return nil
}

type initiateArgs struct {
	Message string `json:"message,omitempty" jsonschema:"optional greeting to speak when the user answers; when omitted the call starts by listening"`
	Goal    string `json:"goal,omitempty" jsonschema:"optional description of what this call should achieve"`
}

type messageArgs struct {
	Message string `json:"message" jsonschema:"the text to speak aloud"`
}

type emptyArgs struct{}

type replyResult struct {
	Success bool   `json:"success"`
	CallID  string `json:"callId,omitempty"`
	Reply   string `json:"reply,omitempty"`
}

type transcriptResult struct {
	Transcript string `json:"transcript"`
}

type endResult struct {
	Success        bool    `json:"success"`
	CallID         string  `json:"callId"`
	Duration       float64 `json:"duration"`
	UtteranceCount int     `json:"utteranceCount"`
	Transcript     string  `json:"transcript"`
}

type testResult struct {
	Report string `json:"report"`
}

func (s *Server) initiateCall(ctx context.Context, _ *mcpsdk.CallToolRequest, args initiateArgs) (*mcpsdk.CallToolResult, replyResult, error) {
	reply, err := s.mgr.Initiate(ctx, args.Message, args.Goal)
	if err != nil {
		return errorResult(describeCallError(err)), replyResult{}, nil
	}
	res := replyResult{Success: true, Reply: reply}
	if info, ok := s.mgr.Info(); ok {
		res.CallID = info.ID
	}
	return nil, res, nil
}

func (s *Server) continueCall(ctx context.Context, _ *mcpsdk.CallToolRequest, args messageArgs) (*mcpsdk.CallToolResult, replyResult, error) {
	if args.Message == "" {
		return errorResult(fmt.Errorf("message must not be empty")), replyResult{}, nil
	}
	reply, err := s.mgr.Continue(ctx, args.Message)
	if err != nil {
		return errorResult(describeCallError(err)), replyResult{}, nil
	}
	return nil, replyResult{Success: true, Reply: reply}, nil
}

// reportCompletion shares continue_call's behaviour; it exists as a separate
// tool so the agent's intent is visible in logs and transcripts of tool use.
func (s *Server) reportCompletion(ctx context.Context, req *mcpsdk.CallToolRequest, args messageArgs) (*mcpsdk.CallToolResult, replyResult, error) {
	return s.continueCall(ctx, req, args)
}

func (s *Server) speak(ctx context.Context, _ *mcpsdk.CallToolRequest, args messageArgs) (*mcpsdk.CallToolResult, emptyArgs, error) {
	if args.Message == "" {
		return errorResult(fmt.Errorf("message must not be empty")), emptyArgs{}, nil
	}
	if err := s.mgr.Speak(ctx, args.Message); err != nil {
		return errorResult(describeCallError(err)), emptyArgs{}, nil
	}
	return nil, emptyArgs{}, nil
}

func (s *Server) getTranscript(_ context.Context, _ *mcpsdk.CallToolRequest, _ emptyArgs) (*mcpsdk.CallToolResult, transcriptResult, error) {
	transcript, err := s.mgr.Transcript()
	if err != nil {
		return errorResult(describeCallError(err)), transcriptResult{}, nil
	}
	return nil, transcriptResult{Transcript: transcript}, nil
}

func (s *Server) endCall(ctx context.Context, _ *mcpsdk.CallToolRequest, _ emptyArgs) (*mcpsdk.CallToolResult, endResult, error) {
	res, err := s.mgr.End(ctx)
	if err != nil {
		return errorResult(describeCallError(err)), endResult{}, nil
	}
	return nil, endResult{
		Success:        true,
		CallID:         res.CallID,
		Duration:       res.Duration.Seconds(),
		UtteranceCount: res.Utterances,
		Transcript:     res.Transcript,
	}, nil
}

func (s *Server) testAudio(ctx context.Context, _ *mcpsdk.CallToolRequest, _ emptyArgs) (*mcpsdk.CallToolResult, testResult, error) {
	if s.tester == nil {
		return nil, testResult{Report: "audio self-test is not configured"}, nil
	}
	report, err := s.tester.Test(ctx)
	if err != nil {
		return errorResult(err), testResult{}, nil
	}
	return nil, testResult{Report: report}, nil
}

// describeCallError adds recovery guidance to domain errors so the agent
// knows whether the call survived.
func describeCallError(err error) error {
	var timeout *call.TimeoutError
	if errors.As(err, &timeout) {
		return fmt.Errorf("%w; the call is still active — speak again or end the call", err)
	}
	return err
}

// errorResult wraps err as a tool-level error result, keeping the MCP session
// itself healthy.
func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}
