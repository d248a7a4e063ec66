package export

// Organization is a row of organizations.csv.
type Organization struct {
	ID          string
	Name        string
	Description string
	QuickNotes  string
}

// Location is a row of locations.csv. Organization holds the org name —
// IT Glue CSVs reference organizations by name, not id.
type Location struct {
	ID           string
	Organization string
	Name         string
	Address1     string
	Address2     string
	City         string
	Region       string
	PostalCode   string
	Country      string
	Phone        string
	Fax          string
	Notes        string
}

// Configuration is a row of configurations.csv.
type Configuration struct {
	ID                  string
	Organization        string
	Name                string
	ConfigurationType   string
	ConfigurationStatus string
	Location            string
	PrimaryIP           string
	MACAddress          string
	SerialNumber        string
	AssetTag            string
	Manufacturer        string
	Model               string
	OperatingSystem     string
	Notes               string
}

// Document is a row of documents.csv. The HTML body lives on disk under
// documents/DOC-{org}-{id} folders, not in the CSV.
type Document struct {
	ID           string
	Organization string
	Name         string
	Public       bool
}

// Password is a row of passwords.csv. ResourceType/ResourceID, when
// present, link the password to another entity and later become a
// relationship.
type Password struct {
	ID           string
	Organization string
	Name         string
	Username     string
	Password     string
	URL          string
	Notes        string
	ResourceType string
	ResourceID   string
}

// AssetRecord is one row of a custom-asset CSV. Values holds the
// non-metadata cells keyed by field key; embedded JSON cells are
// decoded in place.
type AssetRecord struct {
	ID             string
	Organization   string
	OrganizationID string
	Name           string
	Values         map[string]any
}

// AssetType is one custom-asset CSV: its inferred schema plus all rows.
type AssetType struct {
	Name    string // display name derived from the filename
	Key     string
	File    string
	Fields  []FieldDefinition
	Records []AssetRecord
}

// Export holds everything parsed from an export directory.
type Export struct {
	Path           string
	Organizations  []Organization
	Locations      []Location
	Configurations []Configuration
	Documents      []Document
	Passwords      []Password
	AssetTypes     []AssetType
	Warnings       []string
}
