// Package extprocclient drives a single scripted ext_proc request/response
// exchange over an already-connected gRPC channel.
//
// The exchange is a fixed, minimal-but-valid script against the
// envoy.service.ext_proc.v3.ExternalProcessor bidi stream. Each phase is a
// ProcessingRequest sent by the client, answered by a ProcessingResponse of
// the same phase kind before the next phase is sent:
//
//  1. client sends RequestHeaders (:method=POST, :path=/, :authority=load-test,
//     content-type=application/octet-stream), awaits a RequestHeaders response
//  2. client sends RequestBody (a small fixed payload, end_of_stream=true),
//     awaits a RequestBody response
//  3. client sends ResponseHeaders (:status=200), awaits a ResponseHeaders
//     response
//  4. client sends ResponseBody (the same fixed payload, end_of_stream=true),
//     awaits a ResponseBody response
//
// No trailers phase is scripted: trailers are optional in the ext_proc
// protocol and add nothing to a minimal round trip, so omitting them keeps
// the per-stream exchange the smallest valid script that exercises the
// full request and response header+body cycle an Envoy filter chain would
// drive in practice.
package extprocclient
