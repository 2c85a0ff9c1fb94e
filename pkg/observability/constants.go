package observability

const (
	AttrServiceName       = "service.name"
	AttrServiceVersion    = "service.version"
	AttrNegotiationID     = "negotiation.id"
	AttrNegotiationStatus = "negotiation.status"
	AttrRecursionDepth    = "negotiation.recursion_depth"
	AttrScope             = "negotiation.scope"
	AttrCenterRound       = "center.round"
	AttrAgentID           = "agent.id"
	AttrToolName          = "tool.name"
	AttrErrorType         = "error.type"
	AttrHTTPMethod        = "http.method"
	AttrHTTPPath          = "http.path"
	AttrHTTPStatusCode    = "http.status_code"
	AttrHTTPResponseSize  = "http.response_size"

	SpanNegotiationRun = "negotiation.run"
	SpanFormulation    = "negotiation.formulation"
	SpanMatching       = "negotiation.matching"
	SpanOfferBarrier   = "negotiation.offer_barrier"
	SpanOfferTask      = "negotiation.offer_task"
	SpanCenterRound    = "negotiation.center_round"
	SpanToolExecution  = "negotiation.tool_execution"
	SpanHTTPRequest    = "http.request"

	PhaseFormulation  = "formulation"
	PhaseConfirmation = "confirmation"
	PhaseMatching     = "matching"
	PhaseOfferBarrier = "offer_barrier"
	PhaseCenter       = "center"

	DefaultServiceName  = "accord"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
