package diamcodec

// S6a application and vendor identifiers (3GPP, ETSI vendor ID 10415).
const (
	VendorID3GPP = 10415

	AppIDS6a = 16777251

	CmdAIR = 318 // Authentication-Information-Request/Answer
	CmdULR = 316 // Update-Location-Request/Answer

	ResultSuccess = 2001

	// Experimental-Result-Code values carried in a vendor-specific
	// Experimental-Result grouped AVP (RFC 6733 §7.6).
	ResultUserUnknown               = 5001
	ResultAuthDataUnavailable       = 4181
	ResultMissingAVP                = 5005
	ResultUnableToComply            = 5012

	AuthSessionStateNoStateMaintained = 1
)

// Base (non-vendor) AVP codes.
const (
	AVPSessionID                  = 263
	AVPOriginHost                 = 264
	AVPResultCode                 = 268
	AVPOriginRealm                = 296
	AVPDestinationHost            = 293
	AVPDestinationRealm           = 283
	AVPAuthSessionState           = 277
	AVPUserName                   = 1
	AVPVendorSpecificApplicationID = 260
	AVPVendorID                   = 266
	AVPAuthApplicationID          = 258
	AVPExperimentalResult         = 297
	AVPExperimentalResultCode     = 298
)

// S6a vendor-specific (vendor 10415) AVP codes, grounded on
// hss-fd-path.c's AVP assembly for AIR/ULR answers.
const (
	AVPVisitedPLMNID                     = 1407
	AVPRequestedEUTRANAuthInfo           = 1408
	AVPNumberOfRequestedVectors          = 1410
	AVPImmediateResponsePreferred        = 1412
	AVPReSynchronizationInfo             = 1411
	AVPAuthenticationInfo                = 1413
	AVPEUTRANVector                      = 1414
	AVPRAND                              = 1447
	AVPXRES                              = 1448
	AVPAUTN                              = 1449
	AVPKASME                             = 1450

	AVPULRFlags                  = 1405
	AVPULAFlags                  = 1406
	AVPSubscriptionData          = 1400
	AVPSubscriberStatus          = 1424
	AVPNetworkAccessMode         = 1417
	AVPAccessRestrictionData     = 1426
	AVPAMBR                      = 1435
	AVPMaxRequestedBandwidthUL   = 516
	AVPMaxRequestedBandwidthDL   = 515
	AVPSubscribedPeriodicRAUTAU  = 1436
	AVPAPNConfigurationProfile   = 1429
	AVPContextIdentifier         = 1423
	AVPAllAPNConfigIncludedInd   = 1428
	AVPAPNConfiguration          = 1430
	AVPPDNType                   = 1456
	AVPServedPartyIPAddress      = 848
	AVPServiceSelection          = 493
	AVPEPSSubscribedQoSProfile   = 1431
	AVPQoSClassIdentifier        = 1028
	AVPAllocationRetentionPrio   = 1034
	AVPPriorityLevel             = 1046
	AVPPreEmptionCapability      = 1047
	AVPPreEmptionVulnerability   = 1048
	AVPMIP6AgentInfo             = 486
	AVPMIPHomeAgentAddress       = 334

	ULRFlagSkipSubscriberData = 1 << 2
	ULAFlagMMERegisteredForSMS = 1 << 1

	NetworkAccessModePacketAndCircuit = 2
	SubscriberStatusServiceGranted    = 0
)

// Flag bytes for AVP construction (RFC 6733 §4.1).
const (
	AVPFlagMandatory = 0x40
	AVPFlagVendor    = 0x80
)
