package errclass

// table keys are normalized (upper case) codes.
var table = map[string]Classification{
	// Engine codes
	CodeValidation: {
		Title:           "Incomplete submission data",
		Message:         "The voyage data is missing information required by the customs message.",
		SuggestedAction: "Complete the missing fields listed in the error detail and submit again.",
		Category:        CategoryValidation,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	CodeCertificate: {
		Title:           "Company certificate unavailable",
		Message:         "The certificate or private key of the company could not be loaded.",
		SuggestedAction: "Check that a valid certificate and key (or PKCS#12 file and passphrase) are installed for the company.",
		Category:        CategoryCertificate,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	CodeSigning: {
		Title:           "Ticket request could not be signed",
		Message:         "Signing the authentication ticket request with the company certificate failed.",
		SuggestedAction: "Verify that the private key matches the certificate and that the certificate has not expired.",
		Category:        CategoryCertificate,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	CodeAuth: {
		Title:           "Authentication rejected",
		Message:         "The customs authentication service rejected the credentials of the company.",
		SuggestedAction: "Verify that the certificate is associated with the service in the customs portal.",
		Category:        CategoryAuthentication,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	CodeNetwork: {
		Title:           "Customs service unreachable",
		Message:         "The connection to the customs web service failed.",
		SuggestedAction: "The submission is retried automatically; if it keeps failing check connectivity to the service.",
		Category:        CategoryNetwork,
		Severity:        SeverityMedium,
		Retryable:       true,
	},
	CodeTimeout: {
		Title:           "Customs service timed out",
		Message:         "The customs web service did not answer within the configured timeout.",
		SuggestedAction: "The submission is retried automatically; check the service status page if it keeps timing out.",
		Category:        CategoryNetwork,
		Severity:        SeverityMedium,
		Retryable:       true,
	},
	CodeParse: {
		Title:           "Unreadable response",
		Message:         "The customs service answered with an empty or malformed document.",
		SuggestedAction: "Review the raw response; the submission state upstream must be confirmed before resubmitting.",
		Category:        CategoryParse,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	CodeTooLarge: {
		Title:           "Response too large",
		Message:         "The customs service answered with more data than the configured limit.",
		SuggestedAction: "Confirm the submission in the customs portal and raise transport.maxResponseBytes if the reply is legitimate.",
		Category:        CategoryParse,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	CodeAmbiguous: {
		Title:           "Response requires manual review",
		Message:         "Identifiers were only found by heuristic scanning of the response.",
		SuggestedAction: "Confirm the recorded identifiers against the customs portal and mark them as reviewed.",
		Category:        CategoryParse,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	CodeFault: {
		Title:           "Submission rejected",
		Message:         "The customs service returned a fault for this message.",
		SuggestedAction: "Read the fault detail, correct the data and submit a new attempt.",
		Category:        CategoryRemote,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	CodeCancelled: {
		Title:           "Submission cancelled",
		Message:         "The submission was cancelled before the customs service answered.",
		SuggestedAction: "Confirm in the customs portal whether the message was received before submitting again.",
		Category:        CategoryNetwork,
		Severity:        SeverityLow,
	},

	// Authentication service faults
	"COE.NOTAUTHORIZED": {
		Title:           "Service not authorized",
		Message:         "The certificate is not authorized to access the requested service.",
		SuggestedAction: "Associate the certificate with the service in the customs portal.",
		Category:        CategoryAuthentication,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	"COE.ALREADYAUTHENTICATED": {
		Title:           "Valid ticket already issued",
		Message:         "The authentication service already issued a valid ticket for this certificate and service.",
		SuggestedAction: "Wait for the previous ticket to expire or reuse the cached credential.",
		Category:        CategoryAuthentication,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	"CMS.BAD": {
		Title:           "Invalid signed ticket",
		Message:         "The signed ticket request could not be decoded by the authentication service.",
		SuggestedAction: "Check the signing configuration of the company.",
		Category:        CategoryCertificate,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	"CMS.BAD.BASE64": {
		Title:           "Invalid ticket encoding",
		Message:         "The signed ticket request is not valid base64.",
		SuggestedAction: "Report the issue to an administrator.",
		Category:        CategoryCertificate,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	"CMS.CERT.NOTFOUND": {
		Title:           "Certificate missing from ticket",
		Message:         "The signed ticket request does not include the signer certificate.",
		SuggestedAction: "Check the signing configuration of the company.",
		Category:        CategoryCertificate,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	"CMS.CERT.EXPIRED": {
		Title:           "Certificate expired",
		Message:         "The company certificate has expired.",
		SuggestedAction: "Generate a new certificate in the customs portal and install it.",
		Category:        CategoryCertificate,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	"CMS.CERT.INVALID": {
		Title:           "Certificate invalid",
		Message:         "The company certificate is not valid for the authentication service.",
		SuggestedAction: "Install a certificate issued by the customs authority for this environment.",
		Category:        CategoryCertificate,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	"CMS.CERT.UNTRUSTED": {
		Title:           "Certificate not trusted",
		Message:         "The company certificate was not issued by a trusted authority.",
		SuggestedAction: "Check that the certificate belongs to the selected environment (testing or production).",
		Category:        CategoryCertificate,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	"CMS.SIGN.INVALID": {
		Title:           "Ticket signature invalid",
		Message:         "The signature of the ticket request does not verify.",
		SuggestedAction: "Check that the private key matches the installed certificate.",
		Category:        CategoryCertificate,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	"XML.BAD": {
		Title:           "Malformed ticket request",
		Message:         "The ticket request document is not well formed.",
		SuggestedAction: "Report the issue to an administrator.",
		Category:        CategoryValidation,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"XML.GENERATIONTIME.INVALID": {
		Title:           "Ticket generation time rejected",
		Message:         "The generation time of the ticket request is outside the accepted window.",
		SuggestedAction: "Synchronize the server clock and try again.",
		Category:        CategoryAuthentication,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"XML.EXPIRATIONTIME.INVALID": {
		Title:           "Ticket expiration time rejected",
		Message:         "The expiration time of the ticket request is outside the accepted window.",
		SuggestedAction: "Synchronize the server clock and try again.",
		Category:        CategoryAuthentication,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"WSN.UNAVAILABLE": {
		Title:           "Service unavailable",
		Message:         "The requested customs service is temporarily unavailable.",
		SuggestedAction: "Try again later.",
		Category:        CategoryRemote,
		Severity:        SeverityMedium,
		Retryable:       true,
	},
	"WSN.NOTFOUND": {
		Title:           "Unknown service",
		Message:         "The authentication service does not know the requested service name.",
		SuggestedAction: "Check the service name configured for the authority.",
		Category:        CategoryValidation,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"WSAA.UNAVAILABLE": {
		Title:           "Authentication service unavailable",
		Message:         "The authentication service is temporarily unavailable.",
		SuggestedAction: "Try again later.",
		Category:        CategoryRemote,
		Severity:        SeverityMedium,
		Retryable:       true,
	},
	"WSAA.INTERNALERROR": {
		Title:           "Authentication service error",
		Message:         "The authentication service failed while processing the ticket request.",
		SuggestedAction: "Try again later and contact the customs help desk if it persists.",
		Category:        CategoryRemote,
		Severity:        SeverityHigh,
		Retryable:       true,
	},

	// Faults of the ar manifest service (wgesregsintia2)
	"1001": {
		Title:           "Session credential rejected",
		Message:         "The manifest service rejected the token and sign of the request.",
		SuggestedAction: "The cached credential was discarded; submit a new attempt to authenticate again.",
		Category:        CategoryAuthentication,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"1002": {
		Title:           "Company not authorized",
		Message:         "The tax id in the request is not enabled to act for the declared agent type and role.",
		SuggestedAction: "Check the agent type and role configured for the company against its registration.",
		Category:        CategoryAuthentication,
		Severity:        SeverityCritical,
		Blocking:        true,
	},
	"2001": {
		Title:           "Title already registered",
		Message:         "A transport title with the same identifier is already registered.",
		SuggestedAction: "Look up the existing title in the customs portal instead of registering it again.",
		Category:        CategoryRemote,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	"2002": {
		Title:           "Title not found",
		Message:         "The title referenced by the request does not exist or belongs to another company.",
		SuggestedAction: "Check the title identifier of the shipment.",
		Category:        CategoryRemote,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"2010": {
		Title:           "Unknown customs office or port",
		Message:         "A port or customs office code is not in the authority's tables.",
		SuggestedAction: "Correct the port codes of the voyage.",
		Category:        CategoryValidation,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	"2011": {
		Title:           "Invalid container type",
		Message:         "The container type code is not accepted by the manifest service.",
		SuggestedAction: "Use an ISO 6346 type code for the container.",
		Category:        CategoryValidation,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	"2020": {
		Title:           "Invalid weight or package count",
		Message:         "Gross weight and package count must be positive.",
		SuggestedAction: "Complete the weight and package count of every bill of lading.",
		Category:        CategoryValidation,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	"2030": {
		Title:           "Track not linked to title",
		Message:         "A track identifier in the manifest is unknown or belongs to another title.",
		SuggestedAction: "Resume the voyage so that the shipment detail is registered again.",
		Category:        CategoryRemote,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"2040": {
		Title:           "Manifest already registered",
		Message:         "A MIC/DTA with the same data is already registered.",
		SuggestedAction: "Confirm the manifest identifier in the customs portal before submitting again.",
		Category:        CategoryRemote,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	"2050": {
		Title:           "Manifest state does not allow the operation",
		Message:         "The MIC/DTA is in a state that does not accept this operation.",
		SuggestedAction: "Query the manifest state and wait for it to change before retrying.",
		Category:        CategoryRemote,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	"9999": {
		Title:           "Manifest service internal error",
		Message:         "The manifest service failed while processing the request.",
		SuggestedAction: "Try again later and contact the customs help desk if it persists.",
		Category:        CategoryRemote,
		Severity:        SeverityHigh,
		Retryable:       true,
	},

	// Faults of the py fluvial message service (gdsf)
	"E100": {
		Title:           "Unknown message type",
		Message:         "The fluvial message service does not accept the message type sent.",
		SuggestedAction: "Check that the operation is enabled for the company in the customs portal.",
		Category:        CategoryRemote,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"E101": {
		Title:           "Manifest reference not found",
		Message:         "The manifest reference of the message does not exist.",
		SuggestedAction: "Submit the manifest header first or correct the reference.",
		Category:        CategoryRemote,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"E102": {
		Title:           "Manifest already submitted",
		Message:         "A manifest header for the same trip is already registered.",
		SuggestedAction: "Use the existing manifest reference instead of submitting the header again.",
		Category:        CategoryRemote,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	"E110": {
		Title:           "Vessel not registered",
		Message:         "The vessel is not registered with the authority.",
		SuggestedAction: "Register the vessel or correct its registration number.",
		Category:        CategoryValidation,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	"E120": {
		Title:           "Duplicate bill of lading",
		Message:         "A bill of lading number appears twice in the trip.",
		SuggestedAction: "Correct the duplicate bill of lading numbers.",
		Category:        CategoryValidation,
		Severity:        SeverityMedium,
		Blocking:        true,
	},
	"E130": {
		Title:           "Attachment too large",
		Message:         "The document exceeds the size accepted by the service.",
		SuggestedAction: "Reduce the document below 5 MiB and upload it again.",
		Category:        CategoryValidation,
		Severity:        SeverityLow,
		Blocking:        true,
	},
	"E131": {
		Title:           "Attachment type not allowed",
		Message:         "The document format is not accepted.",
		SuggestedAction: "Upload the document as PDF.",
		Category:        CategoryValidation,
		Severity:        SeverityLow,
		Blocking:        true,
	},
	"E900": {
		Title:           "Fluvial service internal error",
		Message:         "The fluvial message service failed while processing the message.",
		SuggestedAction: "Try again later and contact the customs help desk if it persists.",
		Category:        CategoryRemote,
		Severity:        SeverityHigh,
		Retryable:       true,
	},

	// HTTP level statuses
	"HTTP-401": {
		Title:           "Credential rejected",
		Message:         "The business service rejected the session credential.",
		SuggestedAction: "The cached credential was discarded; submit a new attempt to authenticate again.",
		Category:        CategoryAuthentication,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"HTTP-403": {
		Title:           "Access denied",
		Message:         "The company is not allowed to call this operation.",
		SuggestedAction: "Check the role and agent type configured for the company.",
		Category:        CategoryAuthentication,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"HTTP-404": {
		Title:           "Endpoint not found",
		Message:         "The configured endpoint does not exist.",
		SuggestedAction: "Check the endpoint configured for the authority and environment.",
		Category:        CategoryNetwork,
		Severity:        SeverityHigh,
		Blocking:        true,
	},
	"HTTP-502": {
		Title:           "Bad gateway",
		Message:         "A proxy in front of the customs service failed.",
		SuggestedAction: "The submission is retried automatically.",
		Category:        CategoryNetwork,
		Severity:        SeverityMedium,
		Retryable:       true,
	},
	"HTTP-503": {
		Title:           "Service unavailable",
		Message:         "The customs service is in maintenance or overloaded.",
		SuggestedAction: "The submission is retried automatically.",
		Category:        CategoryNetwork,
		Severity:        SeverityMedium,
		Retryable:       true,
	},
	"HTTP-504": {
		Title:           "Gateway timeout",
		Message:         "A proxy in front of the customs service timed out.",
		SuggestedAction: "The submission is retried automatically.",
		Category:        CategoryNetwork,
		Severity:        SeverityMedium,
		Retryable:       true,
	},
}
