package pionengine

import (
	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/pion/webrtc/v4"
)

func toPionConfig(cfg engine.Configuration) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		servers = append(servers, srv)
	}
	return webrtc.Configuration{ICEServers: servers}
}

func toPionSDP(sd engine.SessionDescription) webrtc.SessionDescription {
	var t webrtc.SDPType
	switch sd.Type {
	case engine.SDPTypeOffer:
		t = webrtc.SDPTypeOffer
	case engine.SDPTypePranswer:
		t = webrtc.SDPTypePranswer
	case engine.SDPTypeAnswer:
		t = webrtc.SDPTypeAnswer
	case engine.SDPTypeRollback:
		t = webrtc.SDPTypeRollback
	}
	return webrtc.SessionDescription{Type: t, SDP: sd.SDP}
}

func fromPionSDP(sd webrtc.SessionDescription) engine.SessionDescription {
	var t engine.SDPType
	switch sd.Type {
	case webrtc.SDPTypeOffer:
		t = engine.SDPTypeOffer
	case webrtc.SDPTypePranswer:
		t = engine.SDPTypePranswer
	case webrtc.SDPTypeAnswer:
		t = engine.SDPTypeAnswer
	case webrtc.SDPTypeRollback:
		t = engine.SDPTypeRollback
	}
	return engine.SessionDescription{Type: t, SDP: sd.SDP}
}

func toPionCandidate(c engine.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromPionCandidate(c webrtc.ICECandidateInit) engine.ICECandidate {
	return engine.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromPionConnectionState(s webrtc.PeerConnectionState) engine.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return engine.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return engine.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return engine.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return engine.ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return engine.ConnectionStateClosed
	default:
		return engine.ConnectionStateNew
	}
}

func fromPionSignalingState(s webrtc.SignalingState) engine.SignalingState {
	switch s {
	case webrtc.SignalingStateHaveLocalOffer:
		return engine.SignalingStateHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return engine.SignalingStateHaveRemoteOffer
	case webrtc.SignalingStateHaveLocalPranswer:
		return engine.SignalingStateHaveLocalPranswer
	case webrtc.SignalingStateHaveRemotePranswer:
		return engine.SignalingStateHaveRemotePranswer
	case webrtc.SignalingStateClosed:
		return engine.SignalingStateClosed
	default:
		return engine.SignalingStateStable
	}
}

func fromPionChannelState(s webrtc.DataChannelState) engine.ChannelState {
	switch s {
	case webrtc.DataChannelStateOpen:
		return engine.ChannelStateOpen
	case webrtc.DataChannelStateClosing:
		return engine.ChannelStateClosing
	case webrtc.DataChannelStateClosed:
		return engine.ChannelStateClosed
	default:
		return engine.ChannelStateConnecting
	}
}

func fromPionKind(k webrtc.RTPCodecType) engine.Kind {
	switch k {
	case webrtc.RTPCodecTypeAudio:
		return engine.KindAudio
	case webrtc.RTPCodecTypeVideo:
		return engine.KindVideo
	default:
		return engine.KindUnknown
	}
}
