package ir

// Settings are the tunable inputs for stack construction. Zero values are
// filled with defaults before synthesis; Account and Region are usually
// resolved from the environment rather than written in config.
type Settings struct {
	Account           string            `pkl:"account"`
	Region            string            `pkl:"region"`
	EdgeZone          string            `pkl:"edgeZone"`
	KeyName           string            `pkl:"keyName"`
	Image             string            `pkl:"image"` // AMI id or ssm:/... parameter path
	InstanceType      string            `pkl:"instanceType"`
	VpcCidr           string            `pkl:"vpcCidr"`
	PublicSubnetCidr  string            `pkl:"publicSubnetCidr"`
	PrivateSubnetCidr string            `pkl:"privateSubnetCidr"`
	EdgeSubnetCidr    string            `pkl:"edgeSubnetCidr"`
	AppPort           int               `pkl:"appPort"`
	AppIngressCidr    string            `pkl:"appIngressCidr"`
	Tags              map[string]string `pkl:"tags"`
}
