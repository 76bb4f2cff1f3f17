package models

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// CRM marker values.
const (
	CRMYes = "Sim"
	CRMNo  = "Nao"
)

// Text is a CRM scalar. The API sends most values as strings but numbers,
// booleans and nulls show up depending on the field; all of them are kept in
// their textual form.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(data)
	return nil
}

func (t Text) String() string {
	return string(t)
}

// CRMListing is the detail payload returned for one property.
type CRMListing struct {
	Code          Text      `json:"Codigo"`
	Building      Text      `json:"Edificio"`
	Category      Text      `json:"Categoria"`
	Description   Text      `json:"Descricao"`
	Status        Text      `json:"Status"`
	Bedrooms      Text      `json:"Dormitorios"`
	ParkingSpaces Text      `json:"Vagas"`
	Bathrooms     Text      `json:"BanheiroSocialQtd"`
	PrivateArea   Text      `json:"AreaPrivativa"`
	City          Text      `json:"Cidade"`
	State         Text      `json:"UF"`
	Neighborhood  Text      `json:"Bairro"`
	Address       Text      `json:"Endereco"`
	AddressType   Text      `json:"TipoEndereco"`
	Latitude      Text      `json:"Latitude"`
	Longitude     Text      `json:"Longitude"`
	SalePrice     Text      `json:"ValorVenda"`
	RentalPrice   Text      `json:"ValorLocacao"`
	Situation     Text      `json:"Situacao"`
	Purpose       Text      `json:"Finalidade"`
	UpdatedAt     Text      `json:"DataAtualizacao"`
	PropertyTax   Text      `json:"ValorIptu"`
	CondoFee      Text      `json:"ValorCondominio"`
	SeaDistance   Text      `json:"DistanciaMar"`
	PublishOnSite Text      `json:"ExibirNoSite"`
	Photos        CRMPhotos `json:"Foto"`
}

// CRMPhoto is one entry of a listing's photo collection. Index is the key the
// CRM used for it; keys are numeric but not necessarily contiguous.
type CRMPhoto struct {
	Index    string `json:"-"`
	URL      Text   `json:"Foto"`
	ThumbURL Text   `json:"FotoPequena"`
	Featured Text   `json:"Destaque"`
	Code     Text   `json:"Codigo"`
}

// Order is the numeric position encoded in Index.
func (p CRMPhoto) Order() int {
	n, err := strconv.Atoi(p.Index)
	if err != nil {
		return 0
	}
	return n
}

// CRMPhotos accepts both the keyed-object form ({"1": {...}, "2": {...}})
// and a plain array; the result is sorted by numeric index.
type CRMPhotos []CRMPhoto

func (ps *CRMPhotos) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*ps = nil
		return nil
	}

	if data[0] == '[' {
		var list []CRMPhoto
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		for i := range list {
			list[i].Index = strconv.Itoa(i)
		}
		*ps = list
		return nil
	}

	var keyed map[string]CRMPhoto
	if err := json.Unmarshal(data, &keyed); err != nil {
		return err
	}
	out := make(CRMPhotos, 0, len(keyed))
	for key, photo := range keyed {
		photo.Index = key
		out = append(out, photo)
	}
	sortPhotos(out)
	*ps = out
	return nil
}

func sortPhotos(ps CRMPhotos) {
	sort.SliceStable(ps, func(i, j int) bool {
		ni, ei := strconv.Atoi(ps[i].Index)
		nj, ej := strconv.Atoi(ps[j].Index)
		if ei == nil && ej == nil {
			return ni < nj
		}
		if ei == nil {
			return true
		}
		if ej == nil {
			return false
		}
		return ps[i].Index < ps[j].Index
	})
}
