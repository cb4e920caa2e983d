package models

// 多签导入文档（Safe Transaction Builder格式）
// data始终为null，消费方工具根据contractMethod重新编码调用数据

// ExportMethodInput 方法参数描述
type ExportMethodInput struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	InternalType string `json:"internalType"`
}

// ExportContractMethod 方法描述符
type ExportContractMethod struct {
	Name    string              `json:"name"`
	Inputs  []ExportMethodInput `json:"inputs"`
	Payable bool                `json:"payable"`
}

// ExportTransaction 导出文档中的单笔交易
type ExportTransaction struct {
	To                   string                `json:"to"`
	Value                string                `json:"value"`
	Data                 *string               `json:"data"`
	ContractMethod       *ExportContractMethod `json:"contractMethod"`
	ContractInputsValues map[string]string     `json:"contractInputsValues"`
}

// ExportMeta 导出文档元数据
// createdFromSafeAddress/createdFromOwnerAddress/checksum留空由导入方填写
type ExportMeta struct {
	Name                    string `json:"name"`
	Description             string `json:"description"`
	TxBuilderVersion        string `json:"txBuilderVersion"`
	CreatedFromSafeAddress  string `json:"createdFromSafeAddress"`
	CreatedFromOwnerAddress string `json:"createdFromOwnerAddress"`
	Checksum                string `json:"checksum"`
}

// ExportDocument 多签导入文档
type ExportDocument struct {
	Version      string               `json:"version"`
	ChainID      string               `json:"chainId"`
	CreatedAt    int64                `json:"createdAt"`
	Meta         *ExportMeta          `json:"meta"`
	Transactions []*ExportTransaction `json:"transactions"`
}
